package kb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/opensearchserverless"
	osstypes "github.com/aws/aws-sdk-go-v2/service/opensearchserverless/types"
)

// OpenSearch Serverless policy document shapes. Encryption policies
// are a single object; network and data access policies are arrays.

type ossRule struct {
	Resource     []string `json:"Resource"`
	ResourceType string   `json:"ResourceType"`
	Permission   []string `json:"Permission,omitempty"`
}

type ossEncryptionPolicy struct {
	Rules       []ossRule `json:"Rules"`
	AWSOwnedKey bool      `json:"AWSOwnedKey"`
}

type ossNetworkPolicy struct {
	Rules           []ossRule `json:"Rules"`
	AllowFromPublic bool      `json:"AllowFromPublic"`
}

type ossAccessPolicy struct {
	Rules       []ossRule `json:"Rules"`
	Principal   []string  `json:"Principal"`
	Description string    `json:"Description"`
}

func marshalOSSPolicy(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal collection policy: %w", err)
	}
	return string(data), nil
}

// createSecurityPolicies creates the encryption and network policies
// the collection requires before it can be created.
func (p *Provisioner) createSecurityPolicies(ctx context.Context, info *Info) error {
	collectionResource := []string{"collection/" + info.VectorStoreName}

	encryption, err := marshalOSSPolicy(ossEncryptionPolicy{
		Rules:       []ossRule{{Resource: collectionResource, ResourceType: "collection"}},
		AWSOwnedKey: true,
	})
	if err != nil {
		return err
	}
	if _, err := p.clients.AOSS.CreateSecurityPolicy(ctx, &opensearchserverless.CreateSecurityPolicyInput{
		Name:   aws.String(info.EncryptionPolicyName),
		Type:   osstypes.SecurityPolicyTypeEncryption,
		Policy: aws.String(encryption),
	}); err != nil {
		return fmt.Errorf("create encryption policy: %w", err)
	}

	network, err := marshalOSSPolicy([]ossNetworkPolicy{{
		Rules:           []ossRule{{Resource: collectionResource, ResourceType: "collection"}},
		AllowFromPublic: true,
	}})
	if err != nil {
		return err
	}
	if _, err := p.clients.AOSS.CreateSecurityPolicy(ctx, &opensearchserverless.CreateSecurityPolicyInput{
		Name:   aws.String(info.NetworkPolicyName),
		Type:   osstypes.SecurityPolicyTypeNetwork,
		Policy: aws.String(network),
	}); err != nil {
		return fmt.Errorf("create network policy: %w", err)
	}
	return nil
}

// createAccessPolicy grants the execution role and the caller identity
// full access to the collection and its indexes.
func (p *Provisioner) createAccessPolicy(ctx context.Context, info *Info, callerARN string) error {
	policy, err := marshalOSSPolicy([]ossAccessPolicy{{
		Rules: []ossRule{
			{
				Resource:     []string{"collection/" + info.VectorStoreName},
				ResourceType: "collection",
				Permission: []string{
					"aoss:CreateCollectionItems",
					"aoss:DeleteCollectionItems",
					"aoss:UpdateCollectionItems",
					"aoss:DescribeCollectionItems",
				},
			},
			{
				Resource:     []string{"index/" + info.VectorStoreName + "/*"},
				ResourceType: "index",
				Permission: []string{
					"aoss:CreateIndex",
					"aoss:DeleteIndex",
					"aoss:UpdateIndex",
					"aoss:DescribeIndex",
					"aoss:ReadDocument",
					"aoss:WriteDocument",
				},
			},
		},
		Principal:   []string{info.ExecutionRoleARN, callerARN},
		Description: "Data access policy for the knowledge base collection",
	}})
	if err != nil {
		return err
	}
	if _, err := p.clients.AOSS.CreateAccessPolicy(ctx, &opensearchserverless.CreateAccessPolicyInput{
		Name:   aws.String(info.AccessPolicyName),
		Type:   osstypes.AccessPolicyTypeData,
		Policy: aws.String(policy),
	}); err != nil {
		return fmt.Errorf("create data access policy: %w", err)
	}
	return nil
}

// deleteCollectionPolicies removes the data access, network and
// encryption policies in that order.
func (p *Provisioner) deleteCollectionPolicies(ctx context.Context, info *Info) error {
	if info.AccessPolicyName != "" {
		if _, err := p.clients.AOSS.DeleteAccessPolicy(ctx, &opensearchserverless.DeleteAccessPolicyInput{
			Name: aws.String(info.AccessPolicyName),
			Type: osstypes.AccessPolicyTypeData,
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete data access policy: %w", err)
		}
	}
	for _, sp := range []struct {
		name string
		typ  osstypes.SecurityPolicyType
	}{
		{info.NetworkPolicyName, osstypes.SecurityPolicyTypeNetwork},
		{info.EncryptionPolicyName, osstypes.SecurityPolicyTypeEncryption},
	} {
		if sp.name == "" {
			continue
		}
		if _, err := p.clients.AOSS.DeleteSecurityPolicy(ctx, &opensearchserverless.DeleteSecurityPolicyInput{
			Name: aws.String(sp.name),
			Type: sp.typ,
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete security policy %s: %w", sp.name, err)
		}
	}
	return nil
}

package kb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// policyDocument is the minimal IAM policy document shape the
// provisioning workflow emits.
type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                       `json:"Effect"`
	Action    []string                     `json:"Action"`
	Resource  []string                     `json:"Resource,omitempty"`
	Principal map[string]string            `json:"Principal,omitempty"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

const policyVersion = "2012-10-17"

func marshalPolicy(doc policyDocument) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal policy document: %w", err)
	}
	return string(data), nil
}

// assumeRolePolicy lets the Bedrock service assume the execution role,
// scoped to this account to prevent the confused deputy problem.
func assumeRolePolicy(accountID string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{{
			Effect:    "Allow",
			Action:    []string{"sts:AssumeRole"},
			Principal: map[string]string{"Service": "bedrock.amazonaws.com"},
			Condition: map[string]map[string]string{
				"StringEquals": {"aws:SourceAccount": accountID},
			},
		}},
	}
}

// foundationModelPolicy grants InvokeModel on the embedding model.
func foundationModelPolicy(region, embeddingModelID string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: []string{"bedrock:InvokeModel"},
			Resource: []string{
				fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, embeddingModelID),
			},
		}},
	}
}

// bucketAccessPolicy grants read access to the data bucket and its objects.
func bucketAccessPolicy(bucket, accountID string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: []string{"s3:GetObject", "s3:ListBucket"},
			Resource: []string{
				fmt.Sprintf("arn:aws:s3:::%s", bucket),
				fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
			Condition: map[string]map[string]string{
				"StringEquals": {"aws:ResourceAccount": accountID},
			},
		}},
	}
}

// collectionAccessPolicy grants the role API access to the vector
// store collection. Attached after the collection exists because the
// statement needs its ARN.
func collectionAccessPolicy(collectionARN string) policyDocument {
	return policyDocument{
		Version: policyVersion,
		Statement: []policyStatement{{
			Effect:   "Allow",
			Action:   []string{"aoss:APIAccessAll"},
			Resource: []string{collectionARN},
		}},
	}
}

// createExecutionRole creates the Bedrock execution role and attaches
// the foundation model and bucket policies. Resource names are
// recorded on info as they are created so a partial failure can still
// be torn down.
func (p *Provisioner) createExecutionRole(ctx context.Context, info *Info, accountID string) error {
	fmDoc, err := marshalPolicy(foundationModelPolicy(p.region, info.EmbeddingModelID))
	if err != nil {
		return err
	}
	fmPolicy, err := p.clients.IAM.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     aws.String(info.FMPolicyName),
		PolicyDocument: aws.String(fmDoc),
		Description:    aws.String("Policy for accessing the embedding foundation model"),
	})
	if err != nil {
		return fmt.Errorf("create foundation model policy: %w", err)
	}

	s3Doc, err := marshalPolicy(bucketAccessPolicy(info.BucketName, accountID))
	if err != nil {
		return err
	}
	s3Policy, err := p.clients.IAM.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     aws.String(info.S3PolicyName),
		PolicyDocument: aws.String(s3Doc),
		Description:    aws.String("Policy for reading knowledge base documents from S3"),
	})
	if err != nil {
		return fmt.Errorf("create bucket access policy: %w", err)
	}

	assumeDoc, err := marshalPolicy(assumeRolePolicy(accountID))
	if err != nil {
		return err
	}
	role, err := p.clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(info.ExecutionRoleName),
		AssumeRolePolicyDocument: aws.String(assumeDoc),
		Description:              aws.String("Execution role for the Bedrock knowledge base"),
		MaxSessionDuration:       aws.Int32(3600),
	})
	if err != nil {
		return fmt.Errorf("create execution role: %w", err)
	}
	info.ExecutionRoleARN = aws.ToString(role.Role.Arn)

	for _, arn := range []*string{fmPolicy.Policy.Arn, s3Policy.Policy.Arn} {
		if _, err := p.clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(info.ExecutionRoleName),
			PolicyArn: arn,
		}); err != nil {
			return fmt.Errorf("attach policy %s: %w", aws.ToString(arn), err)
		}
	}
	return nil
}

// attachCollectionPolicy creates and attaches the collection access
// policy once the collection ARN is known.
func (p *Provisioner) attachCollectionPolicy(ctx context.Context, info *Info) error {
	doc, err := marshalPolicy(collectionAccessPolicy(info.CollectionARN))
	if err != nil {
		return err
	}
	policy, err := p.clients.IAM.CreatePolicy(ctx, &iam.CreatePolicyInput{
		PolicyName:     aws.String(info.OSSPolicyName),
		PolicyDocument: aws.String(doc),
		Description:    aws.String("Policy for accessing the vector store collection"),
	})
	if err != nil {
		return fmt.Errorf("create collection access policy: %w", err)
	}
	if _, err := p.clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(info.ExecutionRoleName),
		PolicyArn: policy.Policy.Arn,
	}); err != nil {
		return fmt.Errorf("attach collection access policy: %w", err)
	}
	return nil
}

// policyARN builds the ARN of a customer managed policy by name.
func policyARN(accountID, name string) string {
	return fmt.Sprintf("arn:aws:iam::%s:policy/%s", accountID, name)
}

// deleteExecutionRole detaches and deletes the role and its policies.
func (p *Provisioner) deleteExecutionRole(ctx context.Context, info *Info, accountID string) error {
	for _, name := range []string{info.FMPolicyName, info.S3PolicyName, info.OSSPolicyName} {
		if name == "" {
			continue
		}
		arn := policyARN(accountID, name)
		if _, err := p.clients.IAM.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(info.ExecutionRoleName),
			PolicyArn: aws.String(arn),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("detach policy %s: %w", name, err)
		}
		if _, err := p.clients.IAM.DeletePolicy(ctx, &iam.DeletePolicyInput{
			PolicyArn: aws.String(arn),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete policy %s: %w", name, err)
		}
	}
	if _, err := p.clients.IAM.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: aws.String(info.ExecutionRoleName),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete execution role: %w", err)
	}
	return nil
}

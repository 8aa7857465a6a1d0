package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrStateNotFound indicates no state file exists for a knowledge base name.
var ErrStateNotFound = errors.New("knowledge base state not found")

// Info records every provisioned resource identifier for a knowledge
// base, persisted as JSON so teardown works across process restarts.
type Info struct {
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`

	BucketName      string `json:"bucket_name"`
	VectorStoreName string `json:"vector_store_name"`
	IndexName       string `json:"index_name"`

	CollectionID       string `json:"collection_id"`
	CollectionARN      string `json:"collection_arn"`
	CollectionEndpoint string `json:"collection_endpoint"`

	KnowledgeBaseID string `json:"kb_id"`
	DataSourceID    string `json:"ds_id"`

	ExecutionRoleName string `json:"execution_role_name"`
	ExecutionRoleARN  string `json:"execution_role_arn"`
	FMPolicyName      string `json:"fm_policy_name"`
	S3PolicyName      string `json:"s3_policy_name"`
	OSSPolicyName     string `json:"oss_policy_name"`

	EncryptionPolicyName string `json:"encryption_policy_name"`
	NetworkPolicyName    string `json:"network_policy_name"`
	AccessPolicyName     string `json:"access_policy_name"`

	EmbeddingModelID string `json:"embedding_model_id"`
	Chunking         string `json:"chunking"`
}

// statePath returns the state file path for a knowledge base name,
// creating the state directory if needed.
func statePath(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return filepath.Join(dir, name+".json"), nil
}

// SaveInfo writes the state file for info.Name under dir.
func SaveInfo(dir string, info *Info) error {
	path, err := statePath(dir, info.Name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal knowledge base state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// LoadInfo reads the state file for a knowledge base name under dir.
func LoadInfo(dir, name string) (*Info, error) {
	path, err := statePath(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStateNotFound, name)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return &info, nil
}

// RemoveInfo deletes the state file for a knowledge base name.
// Idempotent: removing an absent file is not an error.
func RemoveInfo(dir, name string) error {
	path, err := statePath(dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// ListInfo returns the names of all knowledge bases with state under dir.
func ListInfo(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name()[:len(entry.Name())-len(".json")])
	}
	return names, nil
}

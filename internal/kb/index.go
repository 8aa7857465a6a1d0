package kb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"
)

// vectorIndexBody is the index definition Bedrock expects for an
// OpenSearch Serverless vector store: an HNSW field for embeddings
// plus text and metadata fields for chunk content.
const vectorIndexBody = `{
  "settings": {
    "index.knn": "true",
    "number_of_shards": 1,
    "knn.algo_param.ef_search": 512,
    "number_of_replicas": 0
  },
  "mappings": {
    "properties": {
      "vector": {
        "type": "knn_vector",
        "dimension": %d,
        "method": {
          "name": "hnsw",
          "engine": "faiss",
          "space_type": "l2"
        }
      },
      "text": {"type": "text"},
      "text-metadata": {"type": "text"}
    }
  }
}`

// IndexManager creates and deletes vector indexes on OpenSearch
// Serverless collections, signing requests with the caller's AWS
// credentials for the aoss service.
type IndexManager struct {
	awsCfg aws.Config
}

// NewIndexManager builds an IndexManager from an AWS config whose
// credentials are used to sign collection requests.
func NewIndexManager(awsCfg aws.Config) *IndexManager {
	return &IndexManager{awsCfg: awsCfg}
}

func (m *IndexManager) client(endpoint string) (*opensearchapi.Client, error) {
	signer, err := requestsigner.NewSignerWithService(m.awsCfg, "aoss")
	if err != nil {
		return nil, fmt.Errorf("create request signer: %w", err)
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: []string{endpoint},
			Signer:    signer,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create collection client: %w", err)
	}
	return client, nil
}

// CreateVectorIndex creates the knn index on the collection endpoint.
func (m *IndexManager) CreateVectorIndex(ctx context.Context, endpoint, name string, dimension int) error {
	client, err := m.client(endpoint)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(vectorIndexBody, dimension)
	if _, err := client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: name,
		Body:  strings.NewReader(body),
	}); err != nil {
		return fmt.Errorf("create vector index %s: %w", name, err)
	}
	return nil
}

// DeleteVectorIndex removes the knn index from the collection endpoint.
func (m *IndexManager) DeleteVectorIndex(ctx context.Context, endpoint, name string) error {
	client, err := m.client(endpoint)
	if err != nil {
		return err
	}
	if _, err := client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{
		Indices: []string{name},
	}); err != nil {
		return fmt.Errorf("delete vector index %s: %w", name, err)
	}
	return nil
}

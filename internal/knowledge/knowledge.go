// Package knowledge searches a Bedrock Knowledge Base for passages that help
// answer a customer question.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

// Passage is one retrieved chunk of a knowledge base document.
type Passage struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// Retriever finds passages relevant to a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

type retrieveAPI interface {
	Retrieve(ctx context.Context, in *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// BedrockRetriever runs vector search against a Bedrock Knowledge Base.
type BedrockRetriever struct {
	api        retrieveAPI
	baseID     string
	maxResults int
	minScore   float64
}

// NewBedrockRetriever creates a retriever for cfg.BaseID.
func NewBedrockRetriever(awsCfg aws.Config, cfg config.KnowledgeConfig) *BedrockRetriever {
	return newBedrockRetriever(bedrockagentruntime.NewFromConfig(awsCfg), cfg)
}

func newBedrockRetriever(api retrieveAPI, cfg config.KnowledgeConfig) *BedrockRetriever {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = config.Default().Knowledge.MaxResults
	}
	return &BedrockRetriever{
		api:        api,
		baseID:     cfg.BaseID,
		maxResults: maxResults,
		minScore:   cfg.MinScore,
	}
}

// Retrieve returns passages scoring at least minScore, sorted by score desc.
func (r *BedrockRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	out, err := r.api.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(r.baseID),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(r.maxResults)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base retrieve: %w", err)
	}

	var passages []Passage
	for _, res := range out.RetrievalResults {
		score := aws.ToFloat64(res.Score)
		if score < r.minScore || res.Content == nil {
			continue
		}
		text := aws.ToString(res.Content.Text)
		if text == "" {
			continue
		}
		passages = append(passages, Passage{Content: text, Score: score, Source: sourceOf(res.Location)})
	}
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })

	slog.Debug("knowledge retrieved", "kb", r.baseID, "returned", len(out.RetrievalResults), "kept", len(passages))
	return passages, nil
}

func sourceOf(loc *types.RetrievalResultLocation) string {
	if loc == nil {
		return ""
	}
	switch {
	case loc.S3Location != nil:
		return aws.ToString(loc.S3Location.Uri)
	case loc.WebLocation != nil:
		return aws.ToString(loc.WebLocation.Url)
	case loc.ConfluenceLocation != nil:
		return aws.ToString(loc.ConfluenceLocation.Url)
	}
	return string(loc.Type)
}

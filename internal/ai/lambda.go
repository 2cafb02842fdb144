// Package ai invokes the cycle-analysis Lambda function that turns a
// finished cycle plus its recent history into a human-readable summary.
package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/appliancemon/appliance-monitor/internal/engine"
)

// invoker is the slice of the Lambda API the analyzer uses.
type invoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaAnalyzer implements engine.Analyzer on top of an AWS Lambda function.
type LambdaAnalyzer struct {
	svc      invoker
	function string
}

// response is what the analysis function returns.
type response struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// NewLambdaAnalyzer builds an analyzer bound to the named function.
func NewLambdaAnalyzer(ctx context.Context, region, function string) (*LambdaAnalyzer, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &LambdaAnalyzer{svc: lambda.NewFromConfig(cfg), function: function}, nil
}

// Analyze invokes the function synchronously and returns its summary text.
func (a *LambdaAnalyzer) Analyze(ctx context.Context, req engine.AnalysisRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal analysis request: %w", err)
	}

	out, err := a.svc.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(a.function),
		Payload:        payload,
		InvocationType: "RequestResponse",
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", a.function, err)
	}
	if out.FunctionError != nil {
		return "", fmt.Errorf("analysis function failed: %s", *out.FunctionError)
	}

	var resp response
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return "", fmt.Errorf("decode analysis response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("analysis error: %s", resp.Error)
	}
	if resp.Summary == "" {
		return "", fmt.Errorf("analysis returned an empty summary")
	}
	return resp.Summary, nil
}

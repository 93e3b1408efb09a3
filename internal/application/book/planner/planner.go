// Package planner 由学习目标规划书籍路线图
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"pustakam-api/internal/domain/entity"
	workflowchain "pustakam-api/internal/workflow/chain"
	wfmodel "pustakam-api/internal/workflow/model"
	"pustakam-api/internal/workflow/node"
	workflowport "pustakam-api/internal/workflow/port"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
	"pustakam-api/pkg/metrics"
)

// ErrorKind 规划失败类型
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindInvalidResponse  ErrorKind = "invalid_response"
	KindProviderRejected ErrorKind = "provider_rejected"
)

// Error 规划失败
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("roadmap planning failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AppError 映射为对外错误码
func (e *Error) AppError() *apperrors.AppError {
	switch e.Kind {
	case KindNetwork:
		return apperrors.Wrap(e, apperrors.CodePlannerNetwork, "roadmap planning failed: network error")
	case KindInvalidResponse:
		return apperrors.Wrap(e, apperrors.CodePlannerInvalidResponse, "roadmap planning failed: invalid model response")
	default:
		return apperrors.Wrap(e, apperrors.CodePlannerProviderRejected, "roadmap planning failed: provider rejected the request")
	}
}

// Plan 规划结果
type Plan struct {
	Title     string
	Reasoning string
	Roadmap   *entity.Roadmap
}

// Planner 路线图规划器，无副作用
type Planner struct {
	chain      *workflowchain.RoadmapChain
	minModules int
	maxModules int
}

// New 创建规划器，目标模块数默认 8-12
func New() *Planner {
	return &Planner{
		chain:      workflowchain.NewRoadmapChain(),
		minModules: 8,
		maxModules: 12,
	}
}

// Plan 调用模型生成路线图
func (p *Planner) Plan(ctx context.Context, client workflowport.ModelClient, session entity.GenerationSession) (*Plan, error) {
	if strings.TrimSpace(session.Goal) == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("goal is required")
	}
	if client == nil {
		return nil, &Error{Kind: KindProviderRejected, Message: "model client not configured"}
	}

	raw, err := p.collect(ctx, client, session)
	if err != nil {
		metrics.RoadmapPlansTotal.WithLabelValues(client.Provider(), "error").Inc()
		return nil, err
	}

	plan, err := parsePlan(raw)
	if err != nil {
		metrics.RoadmapPlansTotal.WithLabelValues(client.Provider(), "invalid").Inc()
		logger.Warn(ctx, "roadmap response could not be parsed", "error", err, "raw_len", len(raw))
		return nil, err
	}
	metrics.RoadmapPlansTotal.WithLabelValues(client.Provider(), "success").Inc()
	logger.Info(ctx, "roadmap planned", "modules", len(plan.Roadmap.Modules), "provider", client.Provider())
	return plan, nil
}

func (p *Planner) collect(ctx context.Context, client workflowport.ModelClient, session entity.GenerationSession) (string, error) {
	stream, err := p.chain.Stream(ctx, client, &wfmodel.RoadmapPlanInput{
		Session:    session,
		MinModules: p.minModules,
		MaxModules: p.maxModules,
	})
	if err != nil {
		return "", fromCallError(ctx, err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fromCallError(ctx, err)
		}
		b.WriteString(delta)
	}
}

func fromCallError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ce := node.ClassifyError(err)
	switch ce.Kind {
	case workflowport.KindNetwork:
		return &Error{Kind: KindNetwork, Message: ce.Message, Err: err}
	case workflowport.KindCancelled:
		return context.Canceled
	default:
		return &Error{Kind: KindProviderRejected, Message: ce.Message, Err: err}
	}
}

func parsePlan(raw string) (*Plan, error) {
	body := node.ExtractJSONObject(raw)
	if body == "" {
		return nil, &Error{Kind: KindInvalidResponse, Message: "empty response"}
	}
	var out wfmodel.RoadmapPlanOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Message: "response is not valid roadmap json", Err: err}
	}

	roadmap := &entity.Roadmap{
		EstimatedReadingTime: strings.TrimSpace(out.EstimatedReadingTime),
		DifficultyLevel:      entity.ParseDifficulty(out.DifficultyLevel),
	}
	for _, d := range out.Modules {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			continue
		}
		order := len(roadmap.Modules) + 1
		objectives := make([]string, 0, len(d.Objectives))
		for _, o := range d.Objectives {
			if o = strings.TrimSpace(o); o != "" {
				objectives = append(objectives, o)
			}
		}
		roadmap.Modules = append(roadmap.Modules, entity.RoadmapModule{
			ID:            fmt.Sprintf("module_%d", order),
			Title:         title,
			Objectives:    objectives,
			EstimatedTime: strings.TrimSpace(d.EstimatedTime),
			Order:         order,
		})
	}
	if len(roadmap.Modules) == 0 {
		return nil, &Error{Kind: KindInvalidResponse, Message: "roadmap contains no modules"}
	}
	roadmap.TotalModules = len(roadmap.Modules)

	return &Plan{
		Title:     strings.TrimSpace(out.Title),
		Reasoning: strings.TrimSpace(out.Reasoning),
		Roadmap:   roadmap,
	}, nil
}

// Package api provides the gRPC admin service for badgekeeper rules.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/rules"
	"github.com/solatis/badgekeeper/internal/types"
)

// RuleRepository persists rules loaded through the API.
// Implemented by *db.RuleRepository.
type RuleRepository interface {
	SaveDefinition(ctx context.Context, row *db.RuleRow) (*db.RuleRow, error)
	Delete(ctx context.Context, id string) error
}

// RuleService implements RuleServiceServer.
// Thin orchestration layer delegating to the rules engine and repository.
type RuleService struct {
	engine       *rules.Engine
	repo         RuleRepository
	maxBatchSize int
	logger       *zap.Logger

	// writeMu serializes repository and store writes with refreshes
	writeMu sync.Locker
	now     func() time.Time
}

// Option configures a RuleService.
type Option func(*RuleService)

// WithRepository persists loaded and deleted rules through repo.
func WithRepository(repo RuleRepository) Option {
	return func(s *RuleService) { s.repo = repo }
}

// WithWriteLock shares a lock with the rule reloader so a refresh cannot
// interleave with LoadRule or DeleteRule.
func WithWriteLock(l sync.Locker) Option {
	return func(s *RuleService) {
		if l != nil {
			s.writeMu = l
		}
	}
}

// WithMaxBatchSize caps the number of rule ids per Evaluate request.
func WithMaxBatchSize(n int) Option {
	return func(s *RuleService) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *RuleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRuleService creates service instance with dependencies.
func NewRuleService(engine *rules.Engine, opts ...Option) (*RuleService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	s := &RuleService{
		engine:       engine,
		maxBatchSize: 1000,
		logger:       zap.NewNop(),
		writeMu:      &sync.Mutex{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ RuleServiceServer = (*RuleService)(nil)

// LoadRule compiles {rule} and stores it, persisting first when a
// repository is configured. A rule without an id is assigned a UUIDv7.
// A persisted rule keeps its enabled flag, window and quotas; it enters the
// store only if those make it eligible now.
// Returns {rule_id, compile_version, active}.
func (s *RuleService) LoadRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ruleField := req.GetFields()["rule"].GetStructValue()
	if ruleField == nil {
		return nil, invalidArgument("rule must be an object")
	}
	data, err := protojson.Marshal(ruleField)
	if err != nil {
		return nil, invalidArgument("rule cannot be encoded: %v", err)
	}

	rule, err := types.ParseRule(data)
	if err != nil {
		return nil, invalidArgument("parse error: %v", err)
	}
	if rule.ID == "" {
		rule.ID = types.NewRuleID()
	}

	store := s.engine.Store()
	compiled, err := store.Compiler().Compile(rule)
	if err != nil {
		return nil, statusFromError(err)
	}

	row, err := db.NewRuleRow(rule)
	if err != nil {
		return nil, statusFromError(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	active := true
	if s.repo != nil {
		stored, err := s.repo.SaveDefinition(ctx, row)
		if err != nil {
			return nil, unavailable("failed to persist rule %s: %v", rule.ID, err)
		}
		active = stored.EligibleAt(s.now())
	}
	if active {
		store.Insert(compiled)
	} else {
		_ = store.Delete(compiled.ID())
	}

	s.logger.Info("rule loaded",
		zap.String("rule_id", compiled.ID()),
		zap.Uint64("compile_version", compiled.CompileVersion),
		zap.Bool("active", active))

	return structpb.NewStruct(map[string]interface{}{
		"rule_id":         compiled.ID(),
		"compile_version": float64(compiled.CompileVersion),
		"active":          active,
	})
}

// GetRule returns {rule, required_fields, compile_version, cost} for {rule_id}.
func (s *RuleService) GetRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := ruleID(req)
	if err != nil {
		return nil, err
	}
	compiled, ok := s.engine.Store().Get(id)
	if !ok {
		return nil, statusFromError(types.NotFound(id))
	}

	ruleMap, err := toMap(compiled.Rule)
	if err != nil {
		return nil, statusFromError(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"rule":            ruleMap,
		"required_fields": stringList(compiled.RequiredFields),
		"compile_version": float64(compiled.CompileVersion),
		"cost":            float64(compiled.Cost),
	})
}

// DeleteRule removes {rule_id} from the store and, when configured, the
// repository. Deleting a rule present in only one of them succeeds.
func (s *RuleService) DeleteRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := ruleID(req)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	persisted := false
	if s.repo != nil {
		err := s.repo.Delete(ctx, id)
		switch {
		case err == nil:
			persisted = true
		case !errors.Is(err, types.ErrRuleNotFound):
			return nil, unavailable("failed to delete rule %s: %v", id, err)
		}
	}

	if err := s.engine.Store().Delete(id); err != nil && !persisted {
		return nil, statusFromError(err)
	}

	s.logger.Info("rule deleted", zap.String("rule_id", id))
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// ListRules returns {rule_ids} in ascending order.
func (s *RuleService) ListRules(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"rule_ids": stringList(s.engine.Store().ListIDs()),
	})
}

// Evaluate evaluates {context, rule_ids?} and returns {results, missing}.
// Without rule_ids every stored rule is evaluated.
func (s *RuleService) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctxField := req.GetFields()["context"].GetStructValue()
	if ctxField == nil {
		return nil, invalidArgument("context must be an object")
	}
	evalCtx, err := types.FromAny(ctxField.AsMap())
	if err != nil {
		return nil, invalidArgument("context: %v", err)
	}

	var ids []string
	if v, ok := req.GetFields()["rule_ids"]; ok {
		list := v.GetListValue()
		if list == nil {
			return nil, invalidArgument("rule_ids must be a list of strings")
		}
		for _, item := range list.GetValues() {
			id, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, invalidArgument("rule_ids must be a list of strings")
			}
			ids = append(ids, id.StringValue)
		}
	}
	if len(ids) > s.maxBatchSize {
		return nil, invalidArgument("batch size exceeds maximum of %d rules", s.maxBatchSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, statusFromError(err)
	}

	results, missing := s.engine.EvaluateAll(evalCtx, ids...)

	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"rule_id":         r.RuleID,
			"rule_name":       r.RuleName,
			"matched":         r.Matched,
			"matched_paths":   stringList(r.MatchedPaths),
			"duration_us":     float64(r.Duration.Microseconds()),
			"compile_version": float64(r.CompileVersion),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"results": out,
		"missing": stringList(missing),
	})
}

// Stats returns {rules_count, total_fields, avg_fields_per_rule}.
func (s *RuleService) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.engine.Store().Stats()
	return structpb.NewStruct(map[string]interface{}{
		"rules_count":         float64(st.RulesCount),
		"total_fields":        float64(st.TotalFields),
		"avg_fields_per_rule": st.AvgFieldsPerRule,
	})
}

func ruleID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["rule_id"].GetStringValue()
	if id == "" {
		return "", invalidArgument("rule_id is required")
	}
	return id, nil
}

// toMap round-trips v through JSON into the generic form structpb accepts.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

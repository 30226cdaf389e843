// internal/rules/store.go
package rules

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Concurrent rule store.
 *
 * Holds the working set of CompiledRules keyed by rule id. The map is split
 * into shards, each behind its own RWMutex; FNV-1a of the id picks the shard,
 * so a write to rule A only blocks readers of rules in A's shard.
 *
 * Per-id state machine:
 *   absent  -> present   Load, LoadJSON, LoadBatch, Replace
 *   present -> present'  Load, Update, Replace (wholesale replacement)
 *   present -> absent    Delete, Clear, Replace (id not in new set)
 *
 * Compilation always happens outside shard locks. Only fully compiled rules
 * are ever inserted; a compile failure leaves the previous entry untouched.
 *
 * Get returns a clone, so a concurrent Update or Delete cannot affect a rule
 * a caller is evaluating. Compiled plans are immutable and shared.
 *
 * Cross-shard operations (ListIDs, Len, Stats, Replace, Clear) visit shards
 * one at a time and are not atomic across shards.
 */

// DefaultShards is the shard count used when WithShards is not given.
const DefaultShards = 32

// Store is a sharded concurrent map of compiled rules.
type Store struct {
	shards   []*shard
	compiler *Compiler
	logger   *zap.Logger
}

type shard struct {
	mu    sync.RWMutex
	rules map[string]*CompiledRule
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithShards sets the shard count. Values below 1 are ignored.
func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n >= 1 {
			s.shards = newShards(n)
		}
	}
}

// WithLogger sets the logger used for batch failures.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCompiler shares a compiler between stores. By default each Store owns one.
func WithCompiler(c *Compiler) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.compiler = c
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards:   newShards(DefaultShards),
		compiler: NewCompiler(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{rules: make(map[string]*CompiledRule)}
	}
	return shards
}

func (s *Store) shardIndex(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(s.shards)))
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[s.shardIndex(id)]
}

// Compiler returns the store's compiler.
func (s *Store) Compiler() *Compiler {
	return s.compiler
}

// Load compiles rule and inserts or replaces it.
func (s *Store) Load(rule *types.Rule) error {
	compiled, err := s.compiler.Compile(rule)
	if err != nil {
		return err
	}
	s.put(compiled)
	return nil
}

// LoadJSON decodes, compiles and inserts a rule. Returns its id.
func (s *Store) LoadJSON(data []byte) (string, error) {
	compiled, err := s.compiler.CompileJSON(data)
	if err != nil {
		return "", err
	}
	s.put(compiled)
	return compiled.Rule.ID, nil
}

// Insert stores an already compiled rule.
func (s *Store) Insert(compiled *CompiledRule) {
	s.put(compiled)
}

func (s *Store) put(compiled *CompiledRule) {
	sh := s.shardFor(compiled.Rule.ID)
	sh.mu.Lock()
	sh.rules[compiled.Rule.ID] = compiled
	sh.mu.Unlock()
}

// Update replaces an existing rule. Returns a *types.StoreError wrapping
// ErrRuleNotFound if the id is absent, or a compile error.
func (s *Store) Update(rule *types.Rule) error {
	if rule != nil && !s.Contains(rule.ID) {
		return types.NotFound(rule.ID)
	}

	compiled, err := s.compiler.Compile(rule)
	if err != nil {
		return err
	}

	sh := s.shardFor(compiled.Rule.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Deleted while compiling
	if _, ok := sh.rules[compiled.Rule.ID]; !ok {
		return types.NotFound(compiled.Rule.ID)
	}
	sh.rules[compiled.Rule.ID] = compiled
	return nil
}

// Delete removes a rule. Returns a *types.StoreError wrapping ErrRuleNotFound
// if the id is absent.
func (s *Store) Delete(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.rules[id]; !ok {
		return types.NotFound(id)
	}
	delete(sh.rules, id)
	return nil
}

// Get returns a clone of the compiled rule.
func (s *Store) Get(id string) (*CompiledRule, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	compiled, ok := sh.rules[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return compiled.Clone(), true
}

// snapshot returns the stored pointer without cloning. Callers must not mutate it.
func (s *Store) snapshot(id string) (*CompiledRule, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	compiled, ok := sh.rules[id]
	return compiled, ok
}

// Version returns the compile version of the stored rule.
func (s *Store) Version(id string) (uint64, bool) {
	compiled, ok := s.snapshot(id)
	if !ok {
		return 0, false
	}
	return compiled.CompileVersion, true
}

// Contains reports whether id is present.
func (s *Store) Contains(id string) bool {
	_, ok := s.snapshot(id)
	return ok
}

// ListIDs returns all rule ids in ascending order.
func (s *Store) ListIDs() []string {
	ids := make([]string, 0)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.rules {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// ListAll returns clones of all rules ordered by id.
func (s *Store) ListAll() []*CompiledRule {
	all := s.listShared()
	for i, compiled := range all {
		all[i] = compiled.Clone()
	}
	return all
}

// listShared returns stored pointers ordered by id. Callers must not mutate them.
func (s *Store) listShared() []*CompiledRule {
	all := make([]*CompiledRule, 0)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, compiled := range sh.rules {
			all = append(all, compiled)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Rule.ID < all[j].Rule.ID
	})
	return all
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.rules)
		sh.mu.RUnlock()
	}
	return n
}

// IsEmpty reports whether the store holds no rules.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Clear removes every rule.
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.rules = make(map[string]*CompiledRule)
		sh.mu.Unlock()
	}
}

// BatchResult reports the outcome of LoadBatch or Replace.
type BatchResult struct {
	Loaded []string         // ids inserted or replaced, in input order
	Failed map[string]error // compile failures by rule id
}

// LoadBatch compiles and inserts each rule. Failures are collected and
// logged; they never abort the batch.
func (s *Store) LoadBatch(rules []*types.Rule) BatchResult {
	compiled, result := s.compileAll(rules)
	for _, c := range compiled {
		s.put(c)
	}
	return result
}

// Replace makes the store hold exactly the given rules. Ids absent from rules
// are dropped. A rule that fails to compile keeps its previous version if one
// exists, unless another entry for the same id in rules compiled. Each shard
// is swapped under its own lock.
func (s *Store) Replace(rules []*types.Rule) BatchResult {
	compiled, result := s.compileAll(rules)

	next := make([]map[string]*CompiledRule, len(s.shards))
	for i := range next {
		next[i] = make(map[string]*CompiledRule)
	}
	for _, c := range compiled {
		next[s.shardIndex(c.Rule.ID)][c.Rule.ID] = c
	}
	retain := make([][]string, len(s.shards))
	for id := range result.Failed {
		i := s.shardIndex(id)
		retain[i] = append(retain[i], id)
	}

	for i, sh := range s.shards {
		sh.mu.Lock()
		for _, id := range retain[i] {
			// A later valid entry for the same id wins
			if _, compiledNow := next[i][id]; compiledNow {
				continue
			}
			if prev, ok := sh.rules[id]; ok {
				next[i][id] = prev
			}
		}
		sh.rules = next[i]
		sh.mu.Unlock()
	}
	return result
}

// compileAll compiles rules in order, logging each failure.
func (s *Store) compileAll(rules []*types.Rule) ([]*CompiledRule, BatchResult) {
	result := BatchResult{
		Loaded: make([]string, 0, len(rules)),
		Failed: make(map[string]error),
	}
	compiled := make([]*CompiledRule, 0, len(rules))

	for i, rule := range rules {
		c, err := s.compiler.Compile(rule)
		if err != nil {
			id := batchKey(rule, i)
			result.Failed[id] = err
			s.logger.Warn("rule failed to compile",
				zap.String("rule_id", id),
				zap.Error(err))
			continue
		}
		compiled = append(compiled, c)
		result.Loaded = append(result.Loaded, c.Rule.ID)
	}
	return compiled, result
}

// batchKey names a failed batch entry. Rules without an id are keyed by position.
func batchKey(rule *types.Rule, i int) string {
	if rule == nil || rule.ID == "" {
		return "#" + strconv.Itoa(i)
	}
	return rule.ID
}

// Stats summarizes the working set.
type Stats struct {
	RulesCount       int
	TotalFields      int
	AvgFieldsPerRule float64
}

// Stats computes aggregate statistics. AvgFieldsPerRule is 0 for an empty store.
func (s *Store) Stats() Stats {
	var st Stats
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, compiled := range sh.rules {
			st.RulesCount++
			st.TotalFields += len(compiled.RequiredFields)
		}
		sh.mu.RUnlock()
	}
	if st.RulesCount > 0 {
		st.AvgFieldsPerRule = float64(st.TotalFields) / float64(st.RulesCount)
	}
	return st
}

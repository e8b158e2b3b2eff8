package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	defaultProvisionDelay = 6 * time.Second
	pendingAddress        = "Pending"
	defaultVMTTL          = 4 * time.Hour
)

// Memory is an in-process orchestrator backed by challenge.yml fixtures. It
// tags instances the way the real backend does and only hands out an address
// once a simulated provisioning delay has elapsed.
type Memory struct {
	mu     sync.Mutex
	index  challenge.Indexer
	clock  clock.WithDelayedExecution
	delay  time.Duration
	nextIP int
	// instances per challenge id, in creation order.
	instances map[string][]*challenge.Instance
	// generation of the latest provisioning request per instance; older
	// timers find a newer generation and do nothing.
	gens   map[*challenge.Instance]int
	timers []clock.Timer
}

var _ Orchestrator = (*Memory)(nil)

type MemoryOption func(*Memory)

// WithProvisionDelay sets how long a started instance stays Pending.
func WithProvisionDelay(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.delay = d
	}
}

func WithClock(clk clock.WithDelayedExecution) MemoryOption {
	return func(m *Memory) {
		m.clock = clk
	}
}

func NewMemory(index challenge.Indexer, opts ...MemoryOption) *Memory {
	m := &Memory{
		index:     index,
		clock:     clock.RealClock{},
		delay:     defaultProvisionDelay,
		instances: make(map[string][]*challenge.Instance),
		gens:      make(map[*challenge.Instance]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.clock.Now()
	for _, def := range index.GetAll() {
		if !def.Kind().Instanced() {
			continue
		}
		for _, fx := range def.Instances {
			inst := &challenge.Instance{
				Tag:       fx.Tag,
				Address:   fx.Address,
				Status:    challenge.ParseStatus(fx.Status),
				CreatedAt: now,
			}
			if def.Kind() == challenge.CategoryVirtualized {
				inst.Details = challenge.VMDetails{ConsoleURL: fx.ConsoleURL}
			} else {
				inst.Details = challenge.ContainerDetails{URL: fx.URL}
			}
			m.instances[def.ID] = append(m.instances[def.ID], inst)
		}
	}
	return m
}

func (m *Memory) ListChallenges(_ context.Context) ([]challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := m.index.GetAll()
	challs := make([]challenge.Challenge, 0, len(defs))
	for _, def := range defs {
		challs = append(challs, m.snapshot(def))
	}
	return challs, nil
}

func (m *Memory) GetChallenge(_ context.Context, id string) (*challenge.Challenge, error) {
	def, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.snapshot(def)
	return &ch, nil
}

func (m *Memory) StartInstance(_ context.Context, id string, team challenge.TeamCode) error {
	def, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !def.Kind().Instanced() {
		return fmt.Errorf("challenge %s is %s and has no instances", id, def.Kind())
	}
	if !def.IsActive() {
		return fmt.Errorf("challenge %s is not active", id)
	}
	tag, err := identity.Normalize(team)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	m.mu.Lock()
	if m.find(id, tag) != nil {
		m.mu.Unlock()
		return ErrConflict
	}
	inst := &challenge.Instance{
		Tag:       string(tag),
		Address:   pendingAddress,
		Status:    challenge.StatusCreated,
		CreatedAt: now,
	}
	if def.Kind() == challenge.CategoryVirtualized {
		inst.Details = challenge.VMDetails{}
	} else {
		inst.Details = challenge.ContainerDetails{}
	}
	m.instances[id] = append(m.instances[id], inst)
	gen := m.bump(inst)
	m.mu.Unlock()

	m.provision(def, inst, gen, now, true)
	zap.S().Debugf("Memory orchestrator: starting %s for %s", id, tag)
	return nil
}

func (m *Memory) ResetInstance(_ context.Context, id string, team challenge.TeamCode, mode ResetMode) error {
	def, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := ValidateResetMode(def.Kind(), mode); err != nil {
		return err
	}
	tag, err := identity.Normalize(team)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	m.mu.Lock()
	inst := m.find(id, tag)
	if inst == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no instance of %s for %s", ErrNotFound, id, tag)
	}
	inst.Status = challenge.StatusCreated
	// A restart keeps the machine and its address, anything else reallocates.
	reallocate := mode != ResetRestart
	if reallocate {
		inst.Address = pendingAddress
		if _, ok := inst.Details.(challenge.VMDetails); ok {
			inst.Details = challenge.VMDetails{}
		}
	}
	gen := m.bump(inst)
	m.mu.Unlock()

	m.provision(def, inst, gen, now, reallocate)
	return nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	teams := make(map[string]struct{})
	var running int
	for _, insts := range m.instances {
		for _, inst := range insts {
			if inst.Status == challenge.StatusRunning {
				running++
			}
			teams[inst.Tag] = struct{}{}
		}
	}
	return &Stats{
		RunningInstances: running,
		Teams:            len(teams),
		Challenges:       len(m.index.GetAll()),
	}, nil
}

// Close stops every pending provisioning timer.
func (m *Memory) Close() {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func (m *Memory) lookup(id string) (*challenge.Definition, error) {
	def, err := m.index.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return def, nil
}

// find must be called with m.mu held.
func (m *Memory) find(id string, tag challenge.TeamIdentifier) *challenge.Instance {
	for _, inst := range m.instances[id] {
		if inst.Tag == string(tag) {
			return inst
		}
	}
	return nil
}

// bump must be called with m.mu held.
func (m *Memory) bump(inst *challenge.Instance) int {
	m.gens[inst]++
	return m.gens[inst]
}

// provision must be called without m.mu held: fake clocks run the callback
// from inside Step.
func (m *Memory) provision(def *challenge.Definition, inst *challenge.Instance, gen int, requested time.Time, reallocate bool) {
	ready := requested.Add(m.delay)
	t := m.clock.AfterFunc(m.delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gens[inst] != gen {
			return
		}
		if reallocate || !challenge.UsableAddress(inst.Address) {
			inst.Address = m.allocate(def.Kind())
		}
		inst.Status = challenge.StatusRunning
		if vm, ok := inst.Details.(challenge.VMDetails); ok {
			m.fillVM(def, inst, &vm, ready)
			inst.Details = vm
		}
		zap.S().Debugf("Memory orchestrator: %s for %s is running at %s", def.ID, inst.Tag, inst.Address)
	})
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
}

// allocate must be called with m.mu held.
func (m *Memory) allocate(category challenge.Category) string {
	m.nextIP++
	n := m.nextIP
	if category == challenge.CategoryVirtualized {
		return fmt.Sprintf("172.24.%d.%d", 4+n/250, 1+n%250)
	}
	return fmt.Sprintf("10.42.%d.%d", n/250, 1+n%250)
}

// fillVM must be called with m.mu held.
func (m *Memory) fillVM(def *challenge.Definition, inst *challenge.Instance, vm *challenge.VMDetails, ready time.Time) {
	settings := challenge.VMFixtureSettings{}
	if def.VM != nil {
		settings = *def.VM
	}
	prefix := settings.StackPrefix
	if prefix == "" {
		prefix = def.ID
	}
	if vm.Stack.ID == "" {
		vm.Stack = challenge.Stack{
			Name: prefix + "-" + strings.TrimPrefix(inst.Tag, identity.Prefix),
			ID:   fmt.Sprintf("stack-%d", m.nextIP),
		}
	}
	if settings.ConsoleBase != "" {
		vm.ConsoleURL = strings.TrimRight(settings.ConsoleBase, "/") + "/vnc_auto.html?stack=" + vm.Stack.ID
	}
	ttl := settings.TTL
	if ttl <= 0 {
		ttl = defaultVMTTL
	}
	expires := ready.Add(ttl)
	vm.ExpiresAt = &expires
}

// snapshot must be called with m.mu held. It returns every team's instances,
// as the real backend does.
func (m *Memory) snapshot(def *challenge.Definition) challenge.Challenge {
	ch := challenge.Challenge{
		ID:           def.ID,
		Name:         def.Name,
		Category:     def.Kind(),
		MaxInstances: def.MaxInstances,
		Active:       def.IsActive(),
		WorkloadType: def.WorkloadType,
		Ports:        append([]int(nil), def.Ports...),
	}
	for _, f := range def.Files {
		ch.Files = append(ch.Files, challenge.File{Name: f.Name, URL: f.URL, Size: f.Size})
	}
	for _, inst := range m.instances[def.ID] {
		cp := *inst
		if vm, ok := inst.Details.(challenge.VMDetails); ok && vm.ExpiresAt != nil {
			t := *vm.ExpiresAt
			vm.ExpiresAt = &t
			cp.Details = vm
		}
		ch.Instances = append(ch.Instances, cp)
	}
	return ch
}

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

const fixtureHTTP = `
id: "1"
name: http
type: zync
category: containerized
workload_type: deployment
ports: [8080]
instances:
  - tag: legacy-team
    address: 10.9.9.9
    status: running
`

const fixtureVM = `
id: win-ad
name: Active Directory
type: zync
category: virtualized
vm:
  console_base: https://openstack.example.com/
  stack_prefix: winad
  ttl: 2h
`

const fixtureStatic = `
id: rsa
name: rsa
type: zync
category: static
files:
  - name: out.txt
    url: https://files.example.com/out.txt
`

func newTestMemory(t *testing.T) (*Memory, *testclock.FakeClock) {
	t.Helper()
	dir := t.TempDir()
	for sub, content := range map[string]string{"http": fixtureHTTP, "vm": fixtureVM, "rsa": fixtureStatic} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, sub, "challenge.yml"), []byte(content), 0o644))
	}
	idx, err := challenge.NewIndex(dir)
	require.NoError(t, err)
	clk := testclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(idx, WithClock(clk), WithProvisionDelay(5*time.Second))
	t.Cleanup(m.Close)
	return m, clk
}

func instanceOf(t *testing.T, m *Memory, id string, team challenge.TeamCode) *challenge.Instance {
	t.Helper()
	ch, err := m.GetChallenge(context.Background(), id)
	require.NoError(t, err)
	tag, err := identity.Normalize(team)
	require.NoError(t, err)
	for i := range ch.Instances {
		if ch.Instances[i].Tag == string(tag) {
			return &ch.Instances[i]
		}
	}
	return nil
}

func TestMemory_FixtureInstancesPreloaded(t *testing.T) {
	m, _ := newTestMemory(t)
	ch, err := m.GetChallenge(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, ch.Instances, 1)
	assert.Equal(t, "legacy-team", ch.Instances[0].Tag)
	assert.Equal(t, challenge.StatusRunning, ch.Instances[0].Status)
	assert.Equal(t, []int{8080}, ch.Ports)
}

func TestMemory_StartProvisionsAfterDelay(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "1", "alpha01"))

	inst := instanceOf(t, m, "1", "alpha01")
	require.NotNil(t, inst)
	assert.Equal(t, "team-3fc0b5b9", inst.Tag)
	assert.Equal(t, "Pending", inst.Address)
	assert.Equal(t, challenge.StatusCreated, inst.Status)

	clk.Step(4 * time.Second)
	assert.Equal(t, "Pending", instanceOf(t, m, "1", "alpha01").Address)

	clk.Step(time.Second)
	inst = instanceOf(t, m, "1", "alpha01")
	assert.True(t, challenge.UsableAddress(inst.Address))
	assert.Equal(t, challenge.StatusRunning, inst.Status)
}

func TestMemory_StartTwiceConflicts(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "1", "alpha01"))
	assert.ErrorIs(t, m.StartInstance(ctx, "1", "alpha01"), ErrConflict)
}

func TestMemory_StartErrors(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	assert.ErrorIs(t, m.StartInstance(ctx, "nope", "alpha01"), ErrNotFound)
	assert.Error(t, m.StartInstance(ctx, "rsa", "alpha01"), "static challenges have no instances")
	assert.ErrorIs(t, m.StartInstance(ctx, "1", ""), identity.ErrIdentityUnknown)
}

func TestMemory_TeamsGetDistinctAddresses(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "1", "alpha01"))
	require.NoError(t, m.StartInstance(ctx, "1", "bravo"))
	clk.Step(5 * time.Second)

	a := instanceOf(t, m, "1", "alpha01")
	b := instanceOf(t, m, "1", "bravo")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.Address, b.Address)

	ch, err := m.GetChallenge(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, ch.Instances, 3, "the listing is global, not scoped to a team")
}

func TestMemory_VirtualMachine(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "win-ad", "alpha01"))
	clk.Step(5 * time.Second)

	inst := instanceOf(t, m, "win-ad", "alpha01")
	require.NotNil(t, inst)
	vm, ok := inst.Details.(challenge.VMDetails)
	require.True(t, ok)
	assert.Equal(t, "winad-3fc0b5b9", vm.Stack.Name)
	assert.Contains(t, vm.ConsoleURL, "https://openstack.example.com/vnc_auto.html?stack=")
	require.NotNil(t, vm.ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 5, 0, time.UTC), *vm.ExpiresAt)
}

func TestMemory_ResetRestartKeepsAddress(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "win-ad", "alpha01"))
	clk.Step(5 * time.Second)
	before := instanceOf(t, m, "win-ad", "alpha01").Address

	require.NoError(t, m.ResetInstance(ctx, "win-ad", "alpha01", ResetRestart))
	inst := instanceOf(t, m, "win-ad", "alpha01")
	assert.Equal(t, challenge.StatusCreated, inst.Status)
	assert.Equal(t, before, inst.Address)

	clk.Step(5 * time.Second)
	inst = instanceOf(t, m, "win-ad", "alpha01")
	assert.Equal(t, challenge.StatusRunning, inst.Status)
	assert.Equal(t, before, inst.Address)
}

func TestMemory_ResetRedeployReallocates(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "win-ad", "alpha01"))
	clk.Step(5 * time.Second)
	before := instanceOf(t, m, "win-ad", "alpha01").Address

	require.NoError(t, m.ResetInstance(ctx, "win-ad", "alpha01", ResetRedeploy))
	inst := instanceOf(t, m, "win-ad", "alpha01")
	assert.Equal(t, "Pending", inst.Address)
	assert.Empty(t, inst.ConsoleURL())

	clk.Step(5 * time.Second)
	inst = instanceOf(t, m, "win-ad", "alpha01")
	assert.NotEqual(t, before, inst.Address)
	assert.NotEmpty(t, inst.ConsoleURL())
}

func TestMemory_ResetSupersedesPendingStart(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "1", "alpha01"))
	clk.Step(3 * time.Second)
	require.NoError(t, m.ResetInstance(ctx, "1", "alpha01", ResetNone))

	// The original start timer fires here but is stale.
	clk.Step(2 * time.Second)
	assert.Equal(t, "Pending", instanceOf(t, m, "1", "alpha01").Address)

	clk.Step(3 * time.Second)
	assert.True(t, challenge.UsableAddress(instanceOf(t, m, "1", "alpha01").Address))
}

func TestMemory_ResetErrors(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	assert.ErrorIs(t, m.ResetInstance(ctx, "1", "alpha01", ResetNone), ErrNotFound)
	assert.Error(t, m.ResetInstance(ctx, "win-ad", "alpha01", ResetNone), "virtual machines need a mode")
	assert.Error(t, m.ResetInstance(ctx, "1", "alpha01", ResetRestart), "containers take no mode")
}

func TestMemory_Stats(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "1", "alpha01"))
	require.NoError(t, m.StartInstance(ctx, "win-ad", "alpha01"))
	require.NoError(t, m.StartInstance(ctx, "1", "bravo"))

	s, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.RunningInstances, "only the preloaded fixture runs yet")
	assert.Equal(t, 3, s.Teams)
	assert.Equal(t, 3, s.Challenges)

	clk.Step(5 * time.Second)
	s, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.RunningInstances)
}

func TestMemory_ListChallenges(t *testing.T) {
	m, _ := newTestMemory(t)
	challs, err := m.ListChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, challs, 3)
	assert.Equal(t, "1", challs[0].ID)
	assert.Equal(t, "rsa", challs[1].ID)
	assert.Equal(t, "win-ad", challs[2].ID)
	assert.Equal(t, challenge.CategoryStatic, challs[1].Category)
	require.Len(t, challs[1].Files, 1)
}

func TestValidateResetMode(t *testing.T) {
	assert.NoError(t, ValidateResetMode(challenge.CategoryVirtualized, ResetRestart))
	assert.NoError(t, ValidateResetMode(challenge.CategoryVirtualized, ResetRedeploy))
	assert.Error(t, ValidateResetMode(challenge.CategoryVirtualized, ResetNone))
	assert.NoError(t, ValidateResetMode(challenge.CategoryContainerized, ResetNone))
	assert.Error(t, ValidateResetMode(challenge.CategoryContainerized, ResetRedeploy))
	assert.Error(t, ValidateResetMode(challenge.CategoryStatic, ResetNone))
}

package access

import (
	"testing"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerChallenge(ports ...int) *challenge.Challenge {
	return &challenge.Challenge{
		ID:           "1",
		Name:         "http",
		Category:     challenge.CategoryContainerized,
		WorkloadType: "deployment",
		Ports:        ports,
	}
}

func TestCompose_ContainerFirstPort(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "10.0.0.5", Status: challenge.StatusRunning, Details: challenge.ContainerDetails{}}
	ra := Compose(containerChallenge(8080, 9090), inst, "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "http://10.0.0.5:8080", ra.AccessURL)
	assert.Equal(t, "10.0.0.5", ra.Address)
	assert.Equal(t, challenge.CategoryContainerized, ra.Category)
	assert.Equal(t, challenge.TeamCode("alpha01"), ra.TeamCode)
	assert.Equal(t, challenge.StatusRunning, ra.Status)
	assert.Contains(t, ra.Hint, "deployment")
	assert.Empty(t, ra.ConsoleURL)
}

func TestCompose_ContainerDefaultPort(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "10.0.0.5", Details: challenge.ContainerDetails{}}
	ra := Compose(containerChallenge(), inst, "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "http://10.0.0.5:80", ra.AccessURL)
}

func TestCompose_ContainerExplicitURL(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "Pending", Details: challenge.ContainerDetails{URL: "https://alpha.chall.example.com/"}}
	ra := Compose(containerChallenge(8080), inst, "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "https://alpha.chall.example.com/", ra.AccessURL)
	assert.Empty(t, ra.Address)
}

func TestCompose_ContainerIPv6(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "fd00::5", Details: challenge.ContainerDetails{}}
	ra := Compose(containerChallenge(8080), inst, "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "http://[fd00::5]:8080", ra.AccessURL)
}

func TestCompose_ContainerNeverEmitsConsole(t *testing.T) {
	// Mislabelled VM details on a container challenge must not leak a console.
	inst := &challenge.Instance{Tag: "t", Address: "10.0.0.5", Details: challenge.VMDetails{ConsoleURL: "https://console/x"}}
	ra := Compose(containerChallenge(8080), inst, "alpha01")
	require.NotNil(t, ra)
	assert.Empty(t, ra.ConsoleURL)
}

func TestCompose_ContainerPendingIsNone(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "pending", Details: challenge.ContainerDetails{}}
	assert.Nil(t, Compose(containerChallenge(8080), inst, "alpha01"))
	assert.Nil(t, Compose(containerChallenge(8080), &challenge.Instance{Tag: "t"}, "alpha01"))
}

func TestCompose_NoResolvedInstanceIsNone(t *testing.T) {
	ch := containerChallenge(8080)
	ch.Instances = []challenge.Instance{{Tag: "unrelated-id", Address: "10.0.0.5", Details: challenge.ContainerDetails{}}}
	resolved := resolver.Resolve(ch.Instances, identity.New("alpha01"))
	assert.Nil(t, resolved)
	assert.Nil(t, Compose(ch, resolved, "alpha01"))

	vm := &challenge.Challenge{Category: challenge.CategoryVirtualized}
	assert.Nil(t, Compose(vm, nil, "alpha01"))
}

func TestCompose_VirtualMachine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(2 * time.Hour)
	inst := &challenge.Instance{
		Tag:     "t",
		Address: "172.24.4.20",
		Status:  challenge.StatusRunning,
		Details: challenge.VMDetails{
			ConsoleURL: "https://openstack.example.com/vnc_auto.html?token=abc",
			Stack:      challenge.Stack{Name: "win-ad-alpha01", ID: "s-1"},
			ExpiresAt:  &expires,
		},
	}
	ch := &challenge.Challenge{Category: challenge.CategoryVirtualized, Ports: []int{3389}}

	ra := Composer{Now: func() time.Time { return now }}.Compose(ch, inst, "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "172.24.4.20", ra.Address)
	assert.Equal(t, "https://openstack.example.com/vnc_auto.html?token=abc", ra.ConsoleURL)
	assert.Empty(t, ra.AccessURL, "virtual machines get no derived http url")
	require.NotNil(t, ra.ExpiresAt)
	assert.Equal(t, expires, *ra.ExpiresAt)
	assert.Contains(t, ra.Warning, "2026-03-01T14:00:00Z")
	assert.Contains(t, ra.Warning, "in 2h")
}

func TestCompose_VirtualMachineExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Minute)
	inst := &challenge.Instance{Tag: "t", Address: "172.24.4.20", Details: challenge.VMDetails{ExpiresAt: &expires}}
	ra := Composer{Now: func() time.Time { return now }}.Compose(&challenge.Challenge{Category: challenge.CategoryVirtualized}, inst, "alpha01")
	require.NotNil(t, ra)
	assert.Contains(t, ra.Warning, "expired")
}

func TestCompose_VirtualMachineConsoleOnly(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "Pending", Details: challenge.VMDetails{ConsoleURL: "https://console/x"}}
	ra := Compose(&challenge.Challenge{Category: challenge.CategoryVirtualized}, inst, "alpha01")
	require.NotNil(t, ra)
	assert.Empty(t, ra.Address)
	assert.Equal(t, "https://console/x", ra.ConsoleURL)
	assert.Empty(t, ra.Warning)
}

func TestCompose_VirtualMachinePendingIsNone(t *testing.T) {
	inst := &challenge.Instance{Tag: "t", Address: "Pending", Details: challenge.VMDetails{}}
	assert.Nil(t, Compose(&challenge.Challenge{Category: challenge.CategoryVirtualized}, inst, "alpha01"))
}

func TestCompose_Static(t *testing.T) {
	ch := &challenge.Challenge{
		Category: challenge.CategoryStatic,
		Files: []challenge.File{
			{Name: "broken"},
			{Name: "handout.zip", URL: "https://files.example.com/handout.zip", Size: 1024},
		},
		// Instances on a static challenge are irrelevant.
		Instances: []challenge.Instance{{Tag: "alpha01", Address: "10.0.0.5"}},
	}
	ra := Compose(ch, &ch.Instances[0], "alpha01")
	require.NotNil(t, ra)
	assert.Equal(t, "https://files.example.com/handout.zip", ra.DownloadURL)
	assert.Empty(t, ra.AccessURL)
	assert.Empty(t, ra.Address)
	assert.Equal(t, "Download handout.zip", ra.Hint)
}

func TestCompose_StaticNoFiles(t *testing.T) {
	assert.Nil(t, Compose(&challenge.Challenge{Category: challenge.CategoryStatic}, nil, "alpha01"))
}

func TestCompose_NilChallenge(t *testing.T) {
	assert.Nil(t, Compose(nil, nil, "alpha01"))
}

package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDecodeChallenge_Container(t *testing.T) {
	data := []byte(`{
		"id": 12,
		"name": "http",
		"category": "container",
		"max_instances": "40",
		"workload_type": "deployment",
		"ports": [8080, "9090", 0, 70000],
		"instances": [
			{"team_id": "team-3fc0b5b9", "address": "10.0.0.5", "status": "Running", "created_at": "2026-03-01T12:00:00Z"},
			{"team": "bravo", "ip": "10.0.0.6", "status": "creating", "url": "https://bravo.example.com"},
			{"owner": "charlie", "status": "weird"}
		]
	}`)
	ch, err := decodeChallenge(data)
	require.NoError(t, err)
	assert.Equal(t, "12", ch.ID)
	assert.Equal(t, challenge.CategoryContainerized, ch.Category)
	assert.Equal(t, 40, ch.MaxInstances)
	assert.True(t, ch.Active)
	assert.Equal(t, []int{8080, 9090}, ch.Ports)
	require.Len(t, ch.Instances, 3)

	assert.Equal(t, "team-3fc0b5b9", ch.Instances[0].Tag)
	assert.Equal(t, "10.0.0.5", ch.Instances[0].Address)
	assert.Equal(t, challenge.StatusRunning, ch.Instances[0].Status)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ch.Instances[0].CreatedAt)

	assert.Equal(t, "bravo", ch.Instances[1].Tag)
	assert.Equal(t, "10.0.0.6", ch.Instances[1].Address)
	assert.Equal(t, challenge.StatusCreated, ch.Instances[1].Status)
	assert.Equal(t, challenge.ContainerDetails{URL: "https://bravo.example.com"}, ch.Instances[1].Details)

	assert.Equal(t, "charlie", ch.Instances[2].Tag)
	assert.Equal(t, challenge.StatusUnknown, ch.Instances[2].Status)
}

func TestDecodeChallenge_VirtualMachine(t *testing.T) {
	data := []byte(`{
		"id": "win-ad",
		"name": "Active Directory",
		"type": "openstack",
		"active": false,
		"instances": [{
			"team_id": "team-3fc0b5b9",
			"ip": "192.168.0.4",
			"floating_ip": "172.24.4.20",
			"console_url": " https://console/x ",
			"stack": {"name": "win-ad-3fc0b5b9", "id": 77},
			"expires_at": "1772373600"
		}]
	}`)
	ch, err := decodeChallenge(data)
	require.NoError(t, err)
	assert.Equal(t, challenge.CategoryVirtualized, ch.Category)
	assert.False(t, ch.Active)
	require.Len(t, ch.Instances, 1)

	inst := ch.Instances[0]
	assert.Equal(t, "172.24.4.20", inst.Address, "floating address wins over the private one")
	vm, ok := inst.Details.(challenge.VMDetails)
	require.True(t, ok)
	assert.Equal(t, "https://console/x", vm.ConsoleURL)
	assert.Equal(t, challenge.Stack{Name: "win-ad-3fc0b5b9", ID: "77"}, vm.Stack)
	require.NotNil(t, vm.ExpiresAt)
	assert.Equal(t, int64(1772373600), vm.ExpiresAt.Unix())
}

func TestDecodeChallenge_StaticFiles(t *testing.T) {
	data := []byte(`{"id": "crypto-1", "name": "rsa", "category": "static",
		"files": [{"filename": "out.txt", "location": "https://files/out.txt", "size": "12"}]}`)
	ch, err := decodeChallenge(data)
	require.NoError(t, err)
	require.Len(t, ch.Files, 1)
	assert.Equal(t, challenge.File{Name: "out.txt", URL: "https://files/out.txt", Size: 12}, ch.Files[0])
}

func TestDecodeChallenge_UnknownCategory(t *testing.T) {
	_, err := decodeChallenge([]byte(`{"id": 1, "name": "x", "category": "quantum"}`))
	assert.Error(t, err)
}

func TestDecodeChallenges_SkipsBrokenEntries(t *testing.T) {
	data := []byte(`[
		{"id": 1, "name": "ok", "category": "containerized"},
		{"id": 2, "name": "bad", "category": "quantum"},
		{"id": 3, "name": "files", "category": "static"}
	]`)
	challs, err := decodeChallenges(data)
	require.NoError(t, err)
	require.Len(t, challs, 2)
	assert.Equal(t, "1", challs[0].ID)
	assert.Equal(t, "3", challs[1].ID)
}

func TestDecodeChallenges_NotAList(t *testing.T) {
	_, err := decodeChallenges([]byte(`{"id": 1}`))
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	assert.Nil(t, parseTime(""))
	assert.Nil(t, parseTime("tomorrow"))

	got := parseTime("2026-03-01 14:00:00")
	require.NotNil(t, got)
	assert.Equal(t, 14, got.Hour())
}

func TestFlexInt(t *testing.T) {
	cases := map[string]int{
		`8080`:        8080,
		`"8080"`:      8080,
		`" 22 "`:      22,
		`12.0`:        12,
		`null`:        0,
		`""`:          0,
		`"http"`:      0,
		`"NaN"`:       0,
		`"Inf"`:       0,
		`"-Infinity"`: 0,
		`1e30`:        0,
		`"-1e30"`:     0,
	}
	for in, want := range cases {
		var f flexInt
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, int(f), in)
	}
}

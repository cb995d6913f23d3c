package router

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMAC = "AA:BB:CC:DD:EE:FF"

func TestRuleCommands(t *testing.T) {
	rule := DefaultRule()

	assert.Equal(t,
		"iptables -I internet_access 1 -m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN",
		rule.InsertCommand(testMAC))
	assert.Equal(t,
		"iptables -D internet_access -m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN",
		rule.DeleteCommand(testMAC))
	assert.Equal(t,
		"iptables -C internet_access -m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN",
		rule.CheckCommand(testMAC))

	rule.Table = "mangle"
	rule.Position = 3
	rule.Target = "ACCEPT"
	assert.Equal(t,
		"iptables -t mangle -I internet_access 3 -m mac --mac-source AA:BB:CC:DD:EE:FF -j ACCEPT",
		rule.InsertCommand(testMAC))
}

func TestLogAllowlist(t *testing.T) {
	var buf bytes.Buffer
	allowlist := NewLogAllowlist(DefaultRule(), &buf)

	require.NoError(t, allowlist.AllowlistAdd(context.Background(), testMAC))
	require.NoError(t, allowlist.AllowlistRemove(context.Background(), testMAC))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[Router CMD] iptables -I internet_access 1 -m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN", lines[0])
	assert.Equal(t, "[Router CMD] iptables -D internet_access -m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN", lines[1])
}

func TestNoopAllowlist(t *testing.T) {
	var allowlist Allowlist = NoopAllowlist{}
	assert.NoError(t, allowlist.AllowlistAdd(context.Background(), testMAC))
	assert.NoError(t, allowlist.AllowlistRemove(context.Background(), testMAC))
}

// fakeTable keeps rules per chain in memory.
type fakeTable struct {
	chains    map[string][]string
	insertErr error
	inserts   int
	deletes   int
}

func newFakeTable(chains ...string) *fakeTable {
	f := &fakeTable{chains: make(map[string][]string)}
	for _, c := range chains {
		f.chains[c] = nil
	}
	return f
}

func (f *fakeTable) key(table, chain string) string { return table + "/" + chain }

func (f *fakeTable) ChainExists(table, chain string) (bool, error) {
	_, ok := f.chains[f.key(table, chain)]
	return ok, nil
}

func (f *fakeTable) Exists(table, chain string, rulespec ...string) (bool, error) {
	want := strings.Join(rulespec, " ")
	for _, r := range f.chains[f.key(table, chain)] {
		if r == want {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTable) Insert(table, chain string, pos int, rulespec ...string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts++
	k := f.key(table, chain)
	rules := f.chains[k]
	idx := pos - 1
	if idx > len(rules) {
		idx = len(rules)
	}
	rules = append(rules[:idx], append([]string{strings.Join(rulespec, " ")}, rules[idx:]...)...)
	f.chains[k] = rules
	return nil
}

func (f *fakeTable) Delete(table, chain string, rulespec ...string) error {
	f.deletes++
	k := f.key(table, chain)
	want := strings.Join(rulespec, " ")
	for i, r := range f.chains[k] {
		if r == want {
			f.chains[k] = append(f.chains[k][:i], f.chains[k][i+1:]...)
			return nil
		}
	}
	return errors.New("Bad rule (does a matching rule exist in that chain?)")
}

func TestIPTablesAllowlistAdd(t *testing.T) {
	table := newFakeTable("filter/internet_access")
	table.chains["filter/internet_access"] = []string{"-j DROP"}
	allowlist := newIPTablesAllowlist(table, DefaultRule(), nil)

	require.NoError(t, allowlist.AllowlistAdd(context.Background(), testMAC))
	assert.Equal(t, []string{
		"-m mac --mac-source AA:BB:CC:DD:EE:FF -j RETURN",
		"-j DROP",
	}, table.chains["filter/internet_access"])

	// A second grant does not stack another rule.
	require.NoError(t, allowlist.AllowlistAdd(context.Background(), testMAC))
	assert.Equal(t, 1, table.inserts)
}

func TestIPTablesAllowlistAddMissingChain(t *testing.T) {
	table := newFakeTable()
	allowlist := newIPTablesAllowlist(table, DefaultRule(), nil)

	err := allowlist.AllowlistAdd(context.Background(), testMAC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain internet_access not found")
	assert.Zero(t, table.inserts)
}

func TestIPTablesAllowlistAddInsertError(t *testing.T) {
	table := newFakeTable("filter/internet_access")
	table.insertErr = errors.New("exit status 4")
	allowlist := newIPTablesAllowlist(table, DefaultRule(), nil)

	err := allowlist.AllowlistAdd(context.Background(), testMAC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert allow-list rule")
}

func TestIPTablesAllowlistRemove(t *testing.T) {
	rule := DefaultRule()
	spec := strings.Join(rule.Spec(testMAC), " ")

	table := newFakeTable("filter/internet_access")
	table.chains["filter/internet_access"] = []string{spec, "-j DROP", spec}
	allowlist := newIPTablesAllowlist(table, rule, nil)

	require.NoError(t, allowlist.AllowlistRemove(context.Background(), testMAC))
	assert.Equal(t, []string{"-j DROP"}, table.chains["filter/internet_access"])
	assert.Equal(t, 2, table.deletes)

	// Removing an absent rule is not an error.
	require.NoError(t, allowlist.AllowlistRemove(context.Background(), testMAC))
	assert.Equal(t, 2, table.deletes)
}

func TestIPTablesAllowlistRemoveMissingChain(t *testing.T) {
	table := newFakeTable()
	allowlist := newIPTablesAllowlist(table, DefaultRule(), nil)

	assert.NoError(t, allowlist.AllowlistRemove(context.Background(), testMAC))
	assert.Zero(t, table.deletes)
}

func TestNormalizeMACAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{in: "aa-bb-cc-dd-ee-ff", want: "aa:bb:cc:dd:ee:ff"},
		{in: "aabb.ccdd.eeff", want: "aa:bb:cc:dd:ee:ff"},
		{in: " 00:11:22:33:44:55 ", want: "00:11:22:33:44:55"},
		{in: "aa:bb:cc:dd:ee:ff; reboot", wantErr: true},
		{in: "00:00:00:00:fe:80:00:00", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeMACAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIPTablesAllowlistTestConnection(t *testing.T) {
	var tester Tester = newIPTablesAllowlist(newFakeTable("filter/internet_access"), DefaultRule(), nil)
	assert.NoError(t, tester.TestConnection(context.Background()))

	tester = newIPTablesAllowlist(newFakeTable(), DefaultRule(), nil)
	assert.Error(t, tester.TestConnection(context.Background()))
}

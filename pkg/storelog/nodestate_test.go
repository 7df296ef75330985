package storelog

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/storelog/pkg/types"
)

func TestNodeStateFreshDefaults(t *testing.T) {
	dir := t.TempDir()
	ns, err := openNodeState(dir)
	require.NoError(t, err)
	defer ns.Close()

	require.EqualValues(t, 0, ns.Term())
	require.True(t, ns.IsVotedFor(types.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 9000}))
}

func TestNodeStateTermRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ns, err := openNodeState(dir)
	require.NoError(t, err)
	defer ns.Close()

	require.NoError(t, ns.UpdateTerm(5))
	require.EqualValues(t, 5, ns.Term())

	next, err := ns.IncrementTerm()
	require.NoError(t, err)
	require.EqualValues(t, 6, next)
	require.EqualValues(t, 6, ns.Term())
}

func TestNodeStateVotedForRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ns, err := openNodeState(dir)
	require.NoError(t, err)
	defer ns.Close()

	ep := types.Endpoint{IP: net.ParseIP("192.168.1.5"), Port: 7946}
	require.NoError(t, ns.UpdateVotedFor(&ep))

	require.True(t, ns.IsVotedFor(ep))
	require.False(t, ns.IsVotedFor(types.Endpoint{IP: net.ParseIP("192.168.1.6"), Port: 7946}))

	require.NoError(t, ns.UpdateVotedFor(nil))
	require.True(t, ns.IsVotedFor(types.Endpoint{IP: net.ParseIP("10.0.0.9"), Port: 1}))
}

func TestNodeStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ns, err := openNodeState(dir)
	require.NoError(t, err)
	ep := types.Endpoint{IP: net.ParseIP("172.16.0.4"), Port: 4001}
	require.NoError(t, ns.UpdateTerm(42))
	require.NoError(t, ns.UpdateVotedFor(&ep))
	require.NoError(t, ns.Close())

	reopened, err := openNodeState(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.EqualValues(t, 42, reopened.Term())
	require.True(t, reopened.IsVotedFor(ep))
}

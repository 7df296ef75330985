package storelog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Write(1, 7, "command", "application/octet-stream", []byte("hello world")))

	entry, ok, err := p.Read(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), entry.Term)
	require.Equal(t, "command", entry.Name)
	require.Equal(t, "application/octet-stream", entry.ContentType)
	require.EqualValues(t, len("hello world"), entry.Length)

	payload, err := entry.Payload()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(payload))
}

func TestPartitionReadEmptySlot(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	entry, ok, err := p.Read(2)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, entry)
}

func TestPartitionOverwriteOccupiedSlot(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Write(1, 1, "a", "text/plain", []byte("first")))
	require.NoError(t, p.Write(1, 2, "b", "text/plain", []byte("second, longer payload")))

	entry, ok, err := p.Read(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), entry.Term)
	require.Equal(t, "b", entry.Name)

	payload, err := entry.Payload()
	require.NoError(t, err)
	require.Equal(t, "second, longer payload", string(payload))
}

func TestPartitionEntryTooLarge(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 32)
	require.NoError(t, err)
	defer p.Close()

	err = p.Write(0, 1, "name", "application/octet-stream", make([]byte, 100))
	require.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestPartitionOccupiedCountPartitionZeroEmpty(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	require.EqualValues(t, 1, p.OccupiedCount())
}

func TestPartitionOccupiedCountPartitionZeroWithEntries(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Write(1, 1, "a", "text/plain", nil))
	require.NoError(t, p.Write(2, 1, "b", "text/plain", nil))
	require.EqualValues(t, 2, p.OccupiedCount())

	require.NoError(t, p.Write(3, 1, "c", "text/plain", nil))
	require.EqualValues(t, 3, p.OccupiedCount())
}

func TestPartitionOccupiedCountNonZeroPartition(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 1, 4, 256)
	require.NoError(t, err)
	defer p.Close()

	require.EqualValues(t, 0, p.OccupiedCount())

	require.NoError(t, p.Write(0, 1, "a", "text/plain", nil))
	require.NoError(t, p.Write(1, 1, "b", "text/plain", nil))
	require.EqualValues(t, 2, p.OccupiedCount())

	// a gap stops the prefix count even though a later slot is occupied
	require.NoError(t, p.Write(3, 1, "d", "text/plain", nil))
	require.EqualValues(t, 2, p.OccupiedCount())
}

func TestPartitionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	require.NoError(t, p.Write(1, 9, "durable", "text/plain", []byte("payload")))
	require.NoError(t, p.Close())

	reopened, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	defer reopened.Close()

	entry, ok, err := reopened.Read(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), entry.Term)
	payload, err := entry.Payload()
	require.NoError(t, err)
	require.Equal(t, "payload", string(payload))
}

func TestPartitionOperationsAfterCloseAreDisposed(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, _, err = p.Read(0)
	require.ErrorIs(t, err, ErrDisposed)

	err = p.Write(0, 1, "a", "text/plain", nil)
	require.ErrorIs(t, err, ErrDisposed)

	require.NoError(t, p.Close())
}

func TestPartitionSizeMismatchIsRejected(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, 4, 256)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = OpenPartition(dir, 0, 8, 256)
	require.ErrorIs(t, err, ErrIOError)
}

package p2p

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFramedRoundTrip(t *testing.T) {
	pkg := Package{
		Type:       PkgVersion,
		AddrFrom:   "localhost:3000",
		Version:    1,
		BestHeight: 42,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, pkg))

	got, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, pkg, got)
}

func TestReadFramedRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFramed(&buf)
	require.Error(t, err)
}

func TestReadFramedRejectsMalformedBody(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("not json")
	var lenPrefix [4]byte
	lenPrefix[3] = byte(len(body))
	buf.Write(lenPrefix[:])
	buf.Write(body)

	_, err := ReadFramed(&buf)
	require.ErrorIs(t, err, ErrMessageDecodeFailed)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, Package{Type: PkgGetBlocks, AddrFrom: "a"}))
	require.NoError(t, WriteFramed(&buf, Package{Type: PkgInv, AddrFrom: "b", OpType: OpBlock}))

	first, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, PkgGetBlocks, first.Type)

	second, err := ReadFramed(&buf)
	require.NoError(t, err)
	require.Equal(t, PkgInv, second.Type)
}

package pagestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndReopenMemory(t *testing.T) {
	s := CreateMemory(Options{PageSize: 64, ChecksumPolicy: 100})
	require.NoError(t, s.Extend(200))
	payload := []byte("the quick brown fox jumps over the lazy dog again")
	require.NoError(t, s.Write(0, payload))
	require.NoError(t, s.Flush())

	got := make([]byte, len(payload))
	require.NoError(t, s.Read(0, got))
	require.Equal(t, payload, got)

	reopened, err := OpenMemory(s.Bytes(), Options{ChecksumPolicy: 100})
	require.NoError(t, err)
	got2 := make([]byte, len(payload))
	require.NoError(t, reopened.Read(0, got2))
	require.Equal(t, payload, got2)
}

func TestWriteSpansMultiplePages(t *testing.T) {
	s := CreateMemory(Options{PageSize: 16, ChecksumPolicy: 100})
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, s.Extend(uint64(len(payload))))
	require.NoError(t, s.Write(0, payload))
	require.NoError(t, s.Flush())

	got := make([]byte, len(payload))
	require.NoError(t, s.Read(0, got))
	require.Equal(t, payload, got)
}

func TestBadChecksumDetected(t *testing.T) {
	s := CreateMemory(Options{PageSize: 32, ChecksumPolicy: 100})
	require.NoError(t, s.Extend(20))
	require.NoError(t, s.Write(0, []byte("hello world, friend!")))
	require.NoError(t, s.Flush())

	raw := s.device.(*memDevice).buf
	raw[2*s.pageSize-1] ^= 0xFF // corrupt the trailing CRC byte of the first data page

	reopened, err := OpenMemory(raw, Options{ChecksumPolicy: 100})
	require.NoError(t, err) // header page itself untouched

	dst := make([]byte, 1)
	err = reopened.Read(0, dst)
	require.Error(t, err)
}

func TestChecksumPolicyPredicateDeterministic(t *testing.T) {
	for _, policy := range []int{0, 1, 37, 50, 99, 100} {
		for idx := uint64(0); idx < 500; idx++ {
			require.Equal(t, verifyPage(idx, policy), verifyPage(idx, policy))
		}
	}
}

// TestLogicalLengthTracksUnflushedAppends covers the bug where two
// Extend/Write calls issued back to back, with no Flush in between,
// both computed their starting offset from the same stale flushed
// length and clobbered each other.
func TestLogicalLengthTracksUnflushedAppends(t *testing.T) {
	s := CreateMemory(Options{PageSize: 32, ChecksumPolicy: 100})

	offset1, err := s.LogicalLength()
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset1)
	first := []byte("hello")
	require.NoError(t, s.Extend(offset1+uint64(len(first))))
	require.NoError(t, s.Write(offset1, first))

	offset2, err := s.LogicalLength()
	require.NoError(t, err)
	require.Equal(t, uint64(len(first)), offset2) // must advance even though nothing was flushed yet
	second := []byte("world")
	require.NoError(t, s.Extend(offset2+uint64(len(second))))
	require.NoError(t, s.Write(offset2, second))

	require.NoError(t, s.Flush())

	got := make([]byte, len(first)+len(second))
	require.NoError(t, s.Read(0, got))
	require.Equal(t, "helloworld", string(got))
}

func TestReadOnlyStoreRejectsWrite(t *testing.T) {
	s := CreateMemory(Options{PageSize: 64, ChecksumPolicy: 100})
	require.NoError(t, s.Flush())
	ro, err := OpenMemory(s.Bytes(), Options{ChecksumPolicy: 100})
	require.NoError(t, err)
	require.Error(t, ro.Write(0, []byte("x")))
}

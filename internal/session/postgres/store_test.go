package postgres

import (
	"testing"
	"time"

	"github.com/remedialab/lectura/pkg/types"
)

func TestDecodeLockLenient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  []byte
		want *types.SessionLockState
	}{
		{name: "nil payload", raw: nil, want: nil},
		{name: "empty payload", raw: []byte{}, want: nil},
		{name: "malformed payload", raw: []byte("{not json"), want: nil},
		{name: "wrong shape decodes to zero values", raw: []byte(`{"foo": 1}`), want: &types.SessionLockState{}},
		{
			name: "valid payload",
			raw:  []byte(`{"completed": true, "lastIndex": 3}`),
			want: &types.SessionLockState{Completed: true, LastIndex: 3},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := decodeLock(tc.raw)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("decodeLock() = %+v, want %+v", got, tc.want)
			}
			if got != nil && (got.Completed != tc.want.Completed || got.LastIndex != tc.want.LastIndex) {
				t.Errorf("decodeLock() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMergeLockMonotone(t *testing.T) {
	t.Parallel()

	now := time.Unix(2000, 0)

	got := mergeLock(nil, types.SessionLockState{LastIndex: 2, UpdatedAt: now})
	if got.LastIndex != 2 || got.Completed {
		t.Errorf("merge with absent prev = %+v", got)
	}

	// LastIndex never decreases.
	got = mergeLock(&types.SessionLockState{LastIndex: 5}, types.SessionLockState{LastIndex: 2, UpdatedAt: now})
	if got.LastIndex != 5 {
		t.Errorf("LastIndex = %d, want 5 (no regression)", got.LastIndex)
	}

	// Completed never reverts.
	got = mergeLock(&types.SessionLockState{Completed: true, LastIndex: 1}, types.SessionLockState{LastIndex: 3, UpdatedAt: now})
	if !got.Completed {
		t.Error("Completed reverted to false")
	}
	if got.LastIndex != 3 {
		t.Errorf("LastIndex = %d, want 3 (advance allowed)", got.LastIndex)
	}
}

package pop3

import (
	"reflect"
	"testing"

	"github.com/Atlantis-Software/n3/storage"
)

func testView(sizes ...int64) *mailboxView {
	infos := make([]storage.MessageInfo, len(sizes))
	for i, size := range sizes {
		infos[i] = storage.MessageInfo{UID: string(rune('a' + i)), Size: size}
	}
	return newMailboxView(infos)
}

// TestListLinesPreserveMessageNumbers verifies that LIST preserves
// original message numbers after DELE, per RFC 1939 §5. Deleted messages
// must be skipped but remaining messages must keep their numbering.
func TestListLinesPreserveMessageNumbers(t *testing.T) {
	tests := []struct {
		name     string
		sizes    []int64
		deleted  []int // 1-based message numbers to mark
		expected []string
	}{
		{
			name:     "no deletions",
			sizes:    []int64{100, 200, 300},
			expected: []string{"1 100", "2 200", "3 300"},
		},
		{
			name:     "middle message deleted",
			sizes:    []int64{100, 200, 300},
			deleted:  []int{2},
			expected: []string{"1 100", "3 300"},
		},
		{
			name:     "first message deleted",
			sizes:    []int64{100, 200, 300},
			deleted:  []int{1},
			expected: []string{"2 200", "3 300"},
		},
		{
			name:     "last message deleted",
			sizes:    []int64{100, 200, 300},
			deleted:  []int{3},
			expected: []string{"1 100", "2 200"},
		},
		{
			name:     "multiple non-contiguous deletions",
			sizes:    []int64{100, 200, 300, 400, 500},
			deleted:  []int{2, 4},
			expected: []string{"1 100", "3 300", "5 500"},
		},
		{
			name:     "all messages deleted",
			sizes:    []int64{100, 200},
			deleted:  []int{1, 2},
			expected: nil,
		},
		{
			name:     "empty maildrop",
			sizes:    nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testView(tt.sizes...)
			for _, n := range tt.deleted {
				if !v.markDeleted(n) {
					t.Fatalf("markDeleted(%d) = false", n)
				}
			}
			if got := buildListLines(v); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("buildListLines() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUIDLLinesPreserveMessageNumbers(t *testing.T) {
	v := testView(100, 200, 300)
	v.markDeleted(2)

	expected := []string{"1 a", "3 c"}
	if got := buildUIDLLines(v); !reflect.DeepEqual(got, expected) {
		t.Errorf("buildUIDLLines() = %v, want %v", got, expected)
	}
}

func TestStatExcludesDeleted(t *testing.T) {
	v := testView(100, 200, 300)

	count, size := v.stat()
	if count != 3 || size != 600 {
		t.Errorf("stat() = %d %d, want 3 600", count, size)
	}

	v.markDeleted(2)
	count, size = v.stat()
	if count != 2 || size != 400 {
		t.Errorf("stat() after DELE = %d %d, want 2 400", count, size)
	}

	v.reset()
	count, size = v.stat()
	if count != 3 || size != 600 {
		t.Errorf("stat() after RSET = %d %d, want 3 600", count, size)
	}
}

func TestEntryBounds(t *testing.T) {
	v := testView(100, 200)

	if v.entry(0) != nil {
		t.Error("entry(0) should be nil")
	}
	if v.entry(3) != nil {
		t.Error("entry(3) should be nil")
	}
	if e := v.entry(1); e == nil || e.uid != "a" {
		t.Errorf("entry(1) = %+v, want uid a", e)
	}

	v.markDeleted(1)
	if v.entry(1) != nil {
		t.Error("entry(1) should be nil after DELE")
	}
	if v.markDeleted(1) {
		t.Error("second markDeleted(1) should fail")
	}
}

func TestSingleListLine(t *testing.T) {
	v := testView(100, 200, 300)
	v.markDeleted(2)

	if line, ok := buildSingleListLine(v, 3); !ok || line != "3 300" {
		t.Errorf("buildSingleListLine(3) = %q %v, want \"3 300\" true", line, ok)
	}
	if _, ok := buildSingleListLine(v, 2); ok {
		t.Error("buildSingleListLine(2) should fail for deleted message")
	}
	if _, ok := buildSingleUIDLLine(v, 4); ok {
		t.Error("buildSingleUIDLLine(4) should fail for out-of-range message")
	}
	if line, ok := buildSingleUIDLLine(v, 1); !ok || line != "1 a" {
		t.Errorf("buildSingleUIDLLine(1) = %q %v, want \"1 a\" true", line, ok)
	}
}

func TestDeletedUIDsSequenceOrder(t *testing.T) {
	v := testView(100, 200, 300, 400)
	v.markDeleted(3)
	v.markDeleted(1)

	expected := []string{"a", "c"}
	if got := v.deletedUIDs(); !reflect.DeepEqual(got, expected) {
		t.Errorf("deletedUIDs() = %v, want %v", got, expected)
	}
}

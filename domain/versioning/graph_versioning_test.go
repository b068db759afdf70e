package versioning

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersioningService_DefaultsPolicy(t *testing.T) {
	svc := NewVersioningService(RetentionPolicy{})
	assert.Equal(t, DefaultMaxVersions, svc.Policy().MaxVersions)

	svc = NewVersioningService(RetentionPolicy{MaxVersions: 5})
	assert.Equal(t, 5, svc.Policy().MaxVersions)
}

func TestNextVersion(t *testing.T) {
	svc := NewVersioningService(DefaultRetentionPolicy())

	assert.Equal(t, 1, svc.NextVersion(0))
	assert.Equal(t, 6, svc.NextVersion(5))
	assert.Equal(t, 1, svc.NextVersion(-3))
}

func TestCheckBaseVersion(t *testing.T) {
	svc := NewVersioningService(DefaultRetentionPolicy())

	tests := []struct {
		name     string
		base     int
		current  int
		override bool
		conflict bool
	}{
		{name: "first save", base: 0, current: 0},
		{name: "matching base", base: 5, current: 5},
		{name: "stale base", base: 3, current: 5, conflict: true},
		{name: "base ahead of store", base: 9, current: 5, conflict: true},
		{name: "override ignores stale base", base: 3, current: 5, override: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckBaseVersion("g1", tt.base, tt.current, tt.override)
			if !tt.conflict {
				assert.NoError(t, err)
				return
			}

			var conflict *ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, tt.current, conflict.CurrentVersion)
			assert.Equal(t, tt.base, conflict.BaseVersion)
			assert.Equal(t, "g1", conflict.GraphID)
		})
	}
}

func TestRetentionPolicy_ShouldPrune(t *testing.T) {
	p := DefaultRetentionPolicy()

	assert.False(t, p.ShouldPrune(19))
	assert.False(t, p.ShouldPrune(20))
	assert.True(t, p.ShouldPrune(21))
	assert.False(t, RetentionPolicy{}.ShouldPrune(100))
}

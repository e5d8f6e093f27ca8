package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveChainDefaultPolicy(t *testing.T) {
	tests := []struct {
		name     string
		declared []string
		want     Chain
	}{
		{
			name:     "absent declaration authenticates by default",
			declared: nil,
			want:     Chain{Authenticate: true},
		},
		{
			name:     "empty declaration authenticates by default",
			declared: []string{},
			want:     Chain{Authenticate: true},
		},
		{
			name:     "anonymous strips authentication",
			declared: []string{"anonymous"},
			want:     Chain{Authenticate: false},
		},
		{
			name:     "anonymous wins over auth",
			declared: []string{"anonymous", "auth"},
			want:     Chain{Authenticate: false},
		},
		{
			name:     "anonymous keeps remaining tokens without auth step",
			declared: []string{"anonymous", "view_reports"},
			want:     Chain{Authenticate: false, Permissions: []string{"view_reports"}},
		},
		{
			name:     "permission codes imply authentication",
			declared: []string{"manage_users"},
			want:     Chain{Authenticate: true, Permissions: []string{"manage_users"}},
		},
		{
			name:     "explicit auth with permission codes is unchanged",
			declared: []string{"auth", "manage_users"},
			want:     Chain{Authenticate: true, Permissions: []string{"manage_users"}},
		},
		{
			name:     "auth alone authenticates with no permission checks",
			declared: []string{"auth"},
			want:     Chain{Authenticate: true},
		},
		{
			name:     "declared order of permission codes is preserved",
			declared: []string{"order.read", "order.export"},
			want:     Chain{Authenticate: true, Permissions: []string{"order.read", "order.export"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveChain(tt.declared))
		})
	}
}

func TestResolveChainIsDeterministic(t *testing.T) {
	declared := []string{"auth", "manage_users", "view_reports"}
	first := ResolveChain(declared)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ResolveChain(declared))
	}
}

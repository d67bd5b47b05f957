package dbscope

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boris-cremit/nebula/pkg/apperr"
)

func TestSchemaName(t *testing.T) {
	tests := []struct {
		workspace string
		want      string
	}{
		{"acme", "workspace_acme"},
		{"acme_corp", "workspace_acme_corp"},
	}

	for _, tt := range tests {
		t.Run(tt.workspace, func(t *testing.T) {
			assert.Equal(t, tt.want, SchemaName(tt.workspace))
		})
	}
}

func TestBeginWithWorkspaceScopeRejectsInvalidName(t *testing.T) {
	tests := []struct {
		name          string
		workspaceName string
	}{
		{"empty", ""},
		{"uppercase", "Acme"},
		{"leading digit", "1acme"},
		{"punctuation", "acme-corp"},
		{"too long", strings.Repeat("a", 64)},
	}

	scope := NewWithPool(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scope.BeginWithWorkspaceScope(context.Background(), tt.workspaceName)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindInvalidWorkspaceName))
		})
	}
}

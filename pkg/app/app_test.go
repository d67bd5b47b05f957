package app

import (
	"testing"

	"github.com/boris-cremit/nebula/internal/config"
)

func TestWithWorkspaceStaticModeIgnoresRequestedName(t *testing.T) {
	cfg := &config.Config{Workspace: config.Workspace{Mode: config.WorkspaceModeStatic, Name: "acme"}}
	a := New(cfg, nil, nil, nil, nil, Services{})

	facade := a.WithWorkspace("whatever-the-caller-asked-for")
	if facade.Name() != "acme" {
		t.Fatalf("facade.Name() = %q, want %q", facade.Name(), "acme")
	}
}

func TestWithWorkspaceDynamicModeUsesRequestedName(t *testing.T) {
	cfg := &config.Config{Workspace: config.Workspace{Mode: config.WorkspaceModeDynamic}}
	a := New(cfg, nil, nil, nil, nil, Services{})

	facade := a.WithWorkspace("tenant-42")
	if facade.Name() != "tenant-42" {
		t.Fatalf("facade.Name() = %q, want %q", facade.Name(), "tenant-42")
	}
}

package modules

import (
	"reflect"
	"strings"
	"testing"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
)

func TestBuiltinRegistersAllModules(t *testing.T) {
	want := []string{
		BasePackagesName,
		ContainerRuntimeName,
		SSHHardeningName,
		WorkstationUserName,
	}
	if got := Builtin().Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	ctor := func(map[string]interface{}) (engine.Module, error) { return nil, nil }

	if err := r.Register("custom", ctor); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("custom", ctor); err == nil {
		t.Fatal("second Register with the same name should fail")
	}
}

func TestBuildConstructsEnabledModulesOnly(t *testing.T) {
	specs := []engine.ModuleSpec{
		{Name: BasePackagesName, Enabled: true},
		{Name: ContainerRuntimeName, Enabled: false},
	}

	built, err := Builtin().Build(specs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built) != 1 {
		t.Fatalf("built %d modules, want 1", len(built))
	}
	mod, ok := built[BasePackagesName]
	if !ok {
		t.Fatal("base-packages missing from build result")
	}
	if mod.Name() != BasePackagesName {
		t.Fatalf("Name() = %q, want %q", mod.Name(), BasePackagesName)
	}
}

func TestBuildRejectsUnknownModule(t *testing.T) {
	_, err := Builtin().Build([]engine.ModuleSpec{{Name: "mystery", Enabled: true}})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("Build = %v, want unregistered module error", err)
	}
}

func TestBuildSurfacesConstructorErrors(t *testing.T) {
	specs := []engine.ModuleSpec{{
		Name:    WorkstationUserName,
		Enabled: true,
		// username is required.
		Options: map[string]interface{}{},
	}}
	_, err := Builtin().Build(specs)
	if err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("Build = %v, want missing username error", err)
	}
}

func TestWorkstationUserDefaultsDotfilesLink(t *testing.T) {
	mod, err := NewWorkstationUser(map[string]interface{}{
		"username":        "dev",
		"dotfiles_source": "/srv/dotfiles",
	})
	if err != nil {
		t.Fatalf("NewWorkstationUser: %v", err)
	}
	u := mod.(*WorkstationUser)
	if u.dotfilesLink != "/home/dev/.dotfiles" {
		t.Fatalf("dotfilesLink = %q, want /home/dev/.dotfiles", u.dotfilesLink)
	}
	if u.shell != "/bin/bash" {
		t.Fatalf("shell = %q, want /bin/bash", u.shell)
	}
	if !reflect.DeepEqual(u.groups, []string{"sudo"}) {
		t.Fatalf("groups = %v, want [sudo]", u.groups)
	}
}

func TestSSHHardeningRendersConfiguredSettings(t *testing.T) {
	mod, err := NewSSHHardening(map[string]interface{}{
		"permit_root_login": false,
		"password_auth":     true,
		"max_auth_tries":    "5",
	})
	if err != nil {
		t.Fatalf("NewSSHHardening: %v", err)
	}
	rendered := mod.(*SSHHardening).render()

	for _, line := range []string{
		"PermitRootLogin no",
		"PasswordAuthentication yes",
		"MaxAuthTries 5",
		"PubkeyAuthentication yes",
	} {
		if !strings.Contains(rendered, line) {
			t.Errorf("rendered config missing %q:\n%s", line, rendered)
		}
	}
}

func TestOptionTypeErrors(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]interface{}
		build   Constructor
	}{
		{
			name:    "string option with wrong type",
			options: map[string]interface{}{"username": 42},
			build:   NewWorkstationUser,
		},
		{
			name:    "bool option with wrong type",
			options: map[string]interface{}{"permit_root_login": "no"},
			build:   NewSSHHardening,
		},
		{
			name:    "list option with wrong element type",
			options: map[string]interface{}{"username": "dev", "groups": []interface{}{"sudo", 7}},
			build:   NewWorkstationUser,
		},
		{
			name:    "list option with wrong type",
			options: map[string]interface{}{"packages": "curl"},
			build:   NewBasePackages,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(tt.options); err == nil {
				t.Fatal("expected a type error")
			}
		})
	}
}

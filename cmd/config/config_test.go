package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Network.DiscoveryTag != "icn-mesh" {
		t.Fatalf("unexpected discovery tag: %s", AppConfig.Network.DiscoveryTag)
	}
	if AppConfig.Mesh.BidWindowMS != 10000 {
		t.Fatalf("expected default bid window 10000ms, got %d", AppConfig.Mesh.BidWindowMS)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Network.DiscoveryTag != "icn-mesh-bootstrap" {
		t.Fatalf("expected discovery tag override, got %s", AppConfig.Network.DiscoveryTag)
	}
	if AppConfig.Mesh.BidWindowMS != 5000 {
		t.Fatalf("expected overridden bid window 5000ms, got %d", AppConfig.Mesh.BidWindowMS)
	}
	if AppConfig.Mesh.WeightPrice != 0.5 {
		t.Fatalf("expected unoverridden weight_price to survive the merge, got %v", AppConfig.Mesh.WeightPrice)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(dir+"/config", 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  discovery_tag: sandbox\n  listen_addr: \"/ip4/0.0.0.0/tcp/0\"\n")
	if err := os.WriteFile(dir+"/config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Network.DiscoveryTag != "sandbox" {
		t.Fatalf("expected discovery tag sandbox, got %s", AppConfig.Network.DiscoveryTag)
	}
}

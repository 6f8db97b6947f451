package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		check   func(*Config) bool
		wantErr string
	}{
		{
			name: "partial override",
			data: "[application]\nbackend = \"vulkan\"\nwidth = 800\n[raytracing]\nbuild_workers = 4\n",
			check: func(c *Config) bool {
				return c.Application.Backend == "vulkan" && c.Application.Width == 800 &&
					c.Application.Height == 720 && c.RayTracing.BuildWorkers == 4
			},
		},
		{
			name:  "frame limit",
			data:  "[frame]\nmax_frames = 10\n",
			check: func(c *Config) bool { return c.Frame.MaxFrames == 10 },
		},
		{
			name:    "unknown backend",
			data:    "[application]\nbackend = \"metal\"\n",
			wantErr: "unknown backend",
		},
		{
			name:    "no workers",
			data:    "[raytracing]\nbuild_workers = 0\n",
			wantErr: "build_workers",
		},
		{
			name:    "syntax error",
			data:    "[application\n",
			wantErr: "line 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Parse([]byte(tt.data), cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Frame.MaxFrames = 3
	data, err := cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got := Default()
	if err := Parse(data, got); err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A write can surface as several events, the first one on a truncated
	// file.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Log.Level == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("no reload with the new level after write")
		}
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const exportFixture = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>server.port</key>
	<integer>4400</integer>
	<key>feedback.max_runs_per_day</key>
	<string>6</string>
	<key>log.level</key>
	<string>debug</string>
	<key>NSWindow Frame</key>
	<dict>
		<key>server.port</key>
		<integer>1</integer>
	</dict>
	<key>user.timezone</key>
	<string>Europe/Berlin</string>
	<key>telemetry</key>
	<false/>
</dict>
</plist>
`

// fakeDefaults records defaults(1) invocations and answers export with out.
type fakeDefaults struct {
	out   string
	err   error
	calls [][]string
}

func (f *fakeDefaults) run(args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if args[0] == "export" {
		return []byte(f.out), f.err
	}
	return nil, f.err
}

func (f *fakeDefaults) exports() int {
	n := 0
	for _, c := range f.calls {
		if c[0] == "export" {
			n++
		}
	}
	return n
}

func TestParsePlistDict(t *testing.T) {
	vals, err := parsePlistDict([]byte(exportFixture))
	if err != nil {
		t.Fatalf("parsePlistDict: %v", err)
	}
	tests := []struct {
		key  string
		want plistValue
	}{
		{"server.port", plistValue{"integer", "4400"}},
		{"feedback.max_runs_per_day", plistValue{"string", "6"}},
		{"user.timezone", plistValue{"string", "Europe/Berlin"}},
		{"telemetry", plistValue{"bool", "false"}},
	}
	for _, tt := range tests {
		if got := vals[tt.key]; got != tt.want {
			t.Errorf("%s = %+v, want %+v", tt.key, got, tt.want)
		}
	}
	if _, ok := vals["NSWindow Frame"]; ok {
		t.Error("nested dict should be skipped")
	}
}

func TestDefaultsBackend_Load(t *testing.T) {
	f := &fakeDefaults{out: exportFixture}
	b := newDefaultsBackend("com.timeledger.test", f.run)

	clearEnv(t)
	cfg, err := loadWith(b, newFakeKeychain())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4400 || cfg.Feedback.MaxRunsPerDay != 6 {
		t.Errorf("ints = %d, %d", cfg.Server.Port, cfg.Feedback.MaxRunsPerDay)
	}
	if cfg.Log.Level != "debug" || cfg.User.Timezone != "Europe/Berlin" {
		t.Errorf("strings = %q, %q", cfg.Log.Level, cfg.User.Timezone)
	}
	if f.exports() != 1 {
		t.Errorf("domain exported %d times, want 1", f.exports())
	}
	if got := strings.Join(f.calls[0], " "); got != "export com.timeledger.test -" {
		t.Errorf("export call = %q", got)
	}
}

func TestDefaultsBackend_MissingDomain(t *testing.T) {
	f := &fakeDefaults{err: errDefaultsStatus}
	b := newDefaultsBackend("com.timeledger.test", f.run)

	if _, ok, err := b.GetString("log.level"); ok || err != nil {
		t.Fatalf("GetString = ok %v, err %v", ok, err)
	}
	if err := b.Delete("log.level"); err != nil {
		t.Errorf("Delete of a missing key: %v", err)
	}
}

func TestDefaultsBackend_ExportFailure(t *testing.T) {
	f := &fakeDefaults{err: errors.New("exec: \"defaults\": executable file not found")}
	b := newDefaultsBackend("com.timeledger.test", f.run)
	if _, _, err := b.GetInt("server.port"); err == nil {
		t.Fatal("expected export error")
	}
}

func TestDefaultsBackend_InvalidInt(t *testing.T) {
	f := &fakeDefaults{out: `<plist><dict><key>server.port</key><string>eighty</string><key>log.level</key><true/></dict></plist>`}
	b := newDefaultsBackend("d", f.run)

	if _, ok, err := b.GetInt("server.port"); !ok || err == nil {
		t.Errorf("GetInt(non-numeric string) = ok %v, err %v", ok, err)
	}
	if _, ok, err := b.GetInt("log.level"); !ok || err == nil {
		t.Errorf("GetInt(bool) = ok %v, err %v", ok, err)
	}
}

func TestDefaultsBackend_WritesInvalidateCache(t *testing.T) {
	f := &fakeDefaults{out: exportFixture}
	b := newDefaultsBackend("d", f.run)

	if _, _, err := b.GetString("log.level"); err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if err := b.SetInt("server.port", 5000); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("log.level", "warn"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if _, _, err := b.GetString("log.level"); err != nil {
		t.Fatalf("GetString: %v", err)
	}

	want := []string{
		"export d -",
		"write d server.port -int 5000",
		"write d log.level -string warn",
		"export d -",
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v", f.calls)
	}
	for i, w := range want {
		if got := strings.Join(f.calls[i], " "); got != w {
			t.Errorf("call %d = %q, want %q", i, got, w)
		}
	}
}

func TestSecretFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data", "secrets.json")
	b := newSecretFile(p)
	if err := b.SetString("timeledger.api_token", "abc"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if v, ok, err := b.GetString("timeledger.api_token"); !ok || err != nil || v != "abc" {
		t.Fatalf("GetString = %q, %v, %v", v, ok, err)
	}
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
}

package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// cacheFileName is the fingerprint cache under <home>/.mcp-terminal.
const cacheFileName = "machine-id"

// cacheFilePerm keeps the cached fingerprint owner-read-only.
const cacheFilePerm = 0o400

var (
	cachedMachineID     string
	cachedMachineIDOnce sync.Once
	cachedMachineIDErr  error
)

// MachineID returns the cached machine fingerprint, generating and
// persisting it on first call. The expensive source-probing work is
// memoized for the process lifetime via sync.Once.
func MachineID(homeDir string) (string, error) {
	cachedMachineIDOnce.Do(func() {
		cachedMachineID, cachedMachineIDErr = loadOrGenerate(homeDir)
	})
	return cachedMachineID, cachedMachineIDErr
}

// ResetCacheForTest clears the process-wide memoization so tests can
// exercise loadOrGenerate against different home directories.
func ResetCacheForTest() {
	cachedMachineID = ""
	cachedMachineIDErr = nil
	cachedMachineIDOnce = sync.Once{}
}

func loadOrGenerate(homeDir string) (string, error) {
	path := cachePath(homeDir)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id, err := generate()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dirOf(path), 0o700); err != nil {
		return id, nil // fingerprint is still usable even if caching fails
	}
	_ = os.WriteFile(path, []byte(id), cacheFilePerm)
	return id, nil
}

func cachePath(homeDir string) string {
	return homeDir + string(os.PathSeparator) + ".mcp-terminal" + string(os.PathSeparator) + cacheFileName
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, os.PathSeparator)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// generate derives a machine fingerprint by combining hostname, primary
// MAC, platform UUID (or a fallback), and GOOS/GOARCH under SHA-256.
// Sources are tried in increasing order of cost and fragility.
func generate() (string, error) {
	hostname, _ := os.Hostname()
	mac := primaryMAC()
	uuid := platformUUID()
	archTag := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)

	material := strings.Join([]string{hostname, mac, uuid, archTag}, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:]), nil
}

// primaryMAC returns the MAC address of the first non-loopback interface
// with a hardware address, or "" if none is found.
func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// platformUUID prefers the systemd machine-id, then dbus's, falling back
// to a timestamp-plus-random value so the fingerprint is always
// produceable even on systems without either file.
func platformUUID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b[:]))
}

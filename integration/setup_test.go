package integration_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/augbari/mqttc"
)

var (
	sharedServer  string
	sharedCleanup func()

	// Track all containers to ensure cleanup
	cleanupMu         sync.Mutex
	containerCleanups []func()
)

func TestMain(m *testing.M) {
	// Setup signal handling for graceful shutdown (Ctrl-C, HUP)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\nReceived interrupt signal, cleaning up containers...")
		cleanupMu.Lock()
		for _, cleanup := range containerCleanups {
			cleanup()
		}
		cleanupMu.Unlock()
		os.Exit(1)
	}()

	var err error
	// Start the shared container with default configuration
	sharedServer, sharedCleanup, err = startContainer("")
	if err != nil {
		fmt.Printf("Failed to start shared container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	// Clean up all containers (shared + isolated)
	cleanupMu.Lock()
	for _, cleanup := range containerCleanups {
		cleanup()
	}
	cleanupMu.Unlock()

	os.Exit(code)
}

// getFreePort returns a free TCP port by opening a listener on :0 and closing it.
func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// startContainer starts a broker container, Mosquitto unless
// MQTT_SERVER_IMAGE names another image that accepts a Mosquitto config.
// If configContent is empty, default config is used.
// If fixedPort is set, it tries to use that host port (for restarts).
func startContainer(configContent string, fixedPort ...string) (string, func(), error) {
	ctx := context.Background()

	// Determine server image from env var or default to Mosquitto
	serverImage := os.Getenv("MQTT_SERVER_IMAGE")
	if serverImage == "" {
		serverImage = "eclipse-mosquitto:2"
	}

	var port string
	if len(fixedPort) > 0 && fixedPort[0] != "" {
		// Use the requested port (must be available)
		port = fixedPort[0]
	} else {
		// Manually find a free port to use with host networking.
		// This bypasses Podman bridge/nftables issues while still providing dynamic ports.
		portInt, err := getFreePort()
		if err != nil {
			return "", nil, fmt.Errorf("failed to find free port: %w", err)
		}
		port = fmt.Sprintf("%d", portInt)
	}

	req := testcontainers.ContainerRequest{
		Image: serverImage,
		// Using Host network mode bypasses the need for Podman to create a bridge
		// and manipulate nftables, which fails on some rootless setups.
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.NetworkMode = "host"
		},
		WaitingFor: wait.ForListeningPort(nat.Port(port + "/tcp")),
	}

	configFile, err := writeMosquittoConfig(port, configContent)
	if err != nil {
		return "", nil, err
	}
	defer os.Remove(configFile)
	req.Files = append(req.Files, testcontainers.ContainerFile{
		HostFilePath:      configFile,
		ContainerFilePath: "/mosquitto/config/mosquitto.conf",
		FileMode:          0644,
	})

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})

	if err != nil {
		return "", nil, fmt.Errorf("failed to start server container: %w", err)
	}

	server := fmt.Sprintf("tcp://localhost:%s", port)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			if err := container.Terminate(ctx); err != nil {
				fmt.Printf("Failed to terminate container: %v\n", err)
			}
		})
	}

	// Register cleanup globally
	cleanupMu.Lock()
	containerCleanups = append(containerCleanups, cleanup)
	cleanupMu.Unlock()

	return server, cleanup, nil
}

// startMosquitto is the helper for tests.
// configContent: custom mosquitto config (or empty for default)
// opts: optional fixed port to reuse (e.g. "30001")
func startMosquitto(t *testing.T, configContent string, opts ...string) (string, func()) {
	t.Helper()

	// If default config and shared server is available AND no fixed port requested, use it.
	if configContent == "" && len(opts) == 0 && sharedServer != "" {
		return sharedServer, func() {
			// No-op cleanup for shared container
		}
	}

	// Otherwise start a new one (e.g. custom config, fixed port, or if shared failed)
	server, cleanup, err := startContainer(configContent, opts...)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}
	return server, cleanup
}

// writeMosquittoConfig writes a config listening on port, with extra lines
// appended, and returns its path.
func writeMosquittoConfig(port, extra string) (string, error) {
	config := fmt.Sprintf("listener %s\nallow_anonymous true\n", port) + extra

	f, err := os.CreateTemp("", "mosquitto-*.conf")
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.WriteString(config); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Name(), nil
}

// dial connects a client and disconnects it when the test ends.
func dial(t *testing.T, server, clientID string, opts ...mqttc.Option) *mqttc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mqttc.Connect(ctx, server, clientID, opts...)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", clientID, err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	return client
}

// waitFor waits for a token with a timeout.
func waitFor(t *testing.T, what string, tok mqttc.Token) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tok.Wait(ctx); err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

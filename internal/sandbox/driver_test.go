package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoDocker skips the test if Docker is not available
func skipIfNoDocker(t *testing.T) {
	cmd := exec.Command("docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("Docker not available, skipping sandbox driver tests")
	}
}

func testDriver(t *testing.T) *Driver {
	t.Helper()
	skipIfNoDocker(t)

	d, err := NewDriver(context.Background(), Config{
		NamePrefix:  "sandboxtest",
		MemoryBytes: 256 * 1024 * 1024,
		CPUQuota:    100000,
		CPUPeriod:   100000,
		StopGrace:   2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		d.SweepOrphans(context.Background())
		d.Close()
	})
	return d
}

func TestContainerName(t *testing.T) {
	d := &Driver{cfg: Config{NamePrefix: "sandbox"}}
	assert.Equal(t, "sandbox_python_exec_abc123", d.ContainerName("python", "exec_abc123"))
}

func TestCreateStartWaitLifecycle(t *testing.T) {
	d := testDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	id, err := d.Create(ctx, CreateOptions{
		ExecutionID: "exec_lifecycle",
		Language:    "ubuntu",
		Image:       "ubuntu:22.04",
		Cmd:         []string{"sh", "-c", "echo hello"},
	})
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	require.NoError(t, d.Start(ctx, id))

	code, err := d.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)

	stream, err := d.StreamLogs(ctx, id)
	require.NoError(t, err)
	defer stream.Close()

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestUploadedWorkspaceIsVisible(t *testing.T) {
	d := testDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	id, err := d.Create(ctx, CreateOptions{
		ExecutionID: "exec_upload",
		Language:    "ubuntu",
		Image:       "ubuntu:22.04",
		Cmd:         []string{"sh", "-c", "cat /workspace/greeting.txt"},
	})
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	archive := tarWithFile(t, "greeting.txt", "hi from tar")
	require.NoError(t, d.Upload(ctx, id, archive, "/workspace"))
	require.NoError(t, d.Start(ctx, id))

	code, err := d.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)

	stream, err := d.StreamLogs(ctx, id)
	require.NoError(t, err)
	defer stream.Close()
	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(out), "hi from tar")
}

func TestStopAndRemoveAreIdempotent(t *testing.T) {
	d := testDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	id, err := d.Create(ctx, CreateOptions{
		ExecutionID: "exec_idem",
		Language:    "ubuntu",
		Image:       "ubuntu:22.04",
		Cmd:         []string{"sleep", "60"},
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(ctx, id))

	// Repeated stop/remove must not panic or error the caller.
	d.Stop(ctx, id, 1*time.Second)
	d.Stop(ctx, id, 1*time.Second)
	d.Remove(ctx, id)
	d.Remove(ctx, id)
}

func TestSweepOrphans(t *testing.T) {
	d := testDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := d.Create(ctx, CreateOptions{
		ExecutionID: "exec_orphan",
		Language:    "ubuntu",
		Image:       "ubuntu:22.04",
		Cmd:         []string{"sleep", "1"},
	})
	require.NoError(t, err)

	swept := d.SweepOrphans(ctx)
	assert.GreaterOrEqual(t, swept, 1)

	// Second sweep finds nothing: idempotent over successive startups.
	assert.Zero(t, d.SweepOrphans(ctx))
}

func tarWithFile(t *testing.T, name, content string) io.Reader {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := io.WriteString(tw, content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf
}

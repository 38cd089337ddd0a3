package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/disklru/pkg/fs"
)

func runBatch(t *testing.T, args []string, script string) (int, string, string) {
	t.Helper()

	var out, errOut strings.Builder

	code := Run(strings.NewReader(script), &out, &errOut, append([]string{"dlc"}, args...))

	return code, out.String(), errOut.String()
}

func Test_Run_Init_Writes_Config_File(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")

	code, out, errOut := runBatch(t, []string{"init", dir}, "")
	require.Zero(t, code, "stderr: %s", errOut)
	require.Contains(t, out, ConfigFileName)

	cfg, err := LoadConfig(fs.NewReal(), filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	require.Equal(t, dir, cfg.Dir)
}

func Test_Run_Init_Refuses_To_Overwrite_Config(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")

	code, _, _ := runBatch(t, []string{"init", dir}, "")
	require.Zero(t, code)

	code, _, errOut := runBatch(t, []string{"init", dir}, "")
	require.NotZero(t, code)
	require.Contains(t, errOut, "already exists")
}

func Test_Run_Batch_Put_Get_Roundtrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")

	script := `
put thumb jpeg-bytes
get thumb 0
size
exit
`

	code, out, errOut := runBatch(t, []string{"--batch", "--value-count", "1", dir}, script)
	require.Zero(t, code, "stderr: %s", errOut)
	require.Contains(t, out, "jpeg-bytes")
	require.Contains(t, out, "10 /")
}

func Test_Run_Batch_State_Survives_Sessions(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")

	code, _, errOut := runBatch(t, []string{"--batch", "--value-count", "1", dir}, "put k persisted\n")
	require.Zero(t, code, "stderr: %s", errOut)

	code, out, errOut := runBatch(t, []string{"--batch", "--value-count", "1", dir}, "get k 0\n")
	require.Zero(t, code, "stderr: %s", errOut)
	require.Contains(t, out, "persisted")
}

func Test_Run_Batch_Unknown_Command_Fails(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")

	code, _, errOut := runBatch(t, []string{"--batch", "--value-count", "1", dir}, "frobnicate\n")
	require.NotZero(t, code)
	require.Contains(t, errOut, "unknown command")
}

func Test_Run_Help_Prints_Usage(t *testing.T) {
	t.Parallel()

	code, out, _ := runBatch(t, []string{"--help"}, "")
	require.Zero(t, code)
	require.Contains(t, out, "Usage:")
	require.Contains(t, out, "REPL commands:")
}

func Test_Run_Without_Arguments_Fails(t *testing.T) {
	t.Parallel()

	code, _, errOut := runBatch(t, nil, "")
	require.NotZero(t, code)
	require.Contains(t, errOut, "no directory")
}

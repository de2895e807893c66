package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	value := makeConfig("NETRANGE_TEST_UNSET_VALUE", 42)
	assert.Equal(t, 42, value.GetInt())
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("NETRANGE_TEST_DURATION", "90")
	t.Setenv("NETRANGE_TEST_LIST", "csv, ,tsv")
	t.Setenv("NETRANGE_TEST_INVALID", "many")

	assert.Equal(t, 90*time.Second, makeConfig("NETRANGE_TEST_DURATION", time.Duration(0)).GetDuration())
	assert.Equal(t, []string{"csv", "tsv"}, makeConfig("NETRANGE_TEST_LIST", []string(nil)).GetStrings())
	assert.Equal(t, 7, makeConfig("NETRANGE_TEST_INVALID", 7).GetInt())
}

func TestConfigLoadsOnce(t *testing.T) {
	t.Setenv("NETRANGE_TEST_ONCE", "first")
	value := makeConfig("NETRANGE_TEST_ONCE", "")
	assert.Equal(t, "first", value.GetString())

	t.Setenv("NETRANGE_TEST_ONCE", "second")
	assert.Equal(t, "first", value.GetString())
}

func TestConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	contents := "NETRANGE_TEST_DOTENV_TOP=7\nNETRANGE_TEST_DOTENV_DIR=from_dotenv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte(contents), 0o600))
	t.Chdir(dir)

	// Restores both keys to unset once the test is done
	t.Setenv("NETRANGE_TEST_DOTENV_TOP", "")
	require.NoError(t, os.Unsetenv("NETRANGE_TEST_DOTENV_TOP"))
	t.Setenv("NETRANGE_TEST_DOTENV_DIR", "from_environment")

	envFileOnce = sync.Once{}
	t.Cleanup(func() { envFileOnce = sync.Once{} })

	// Values are picked up even when nothing else has been loaded yet
	assert.Equal(t, 7, makeConfig("NETRANGE_TEST_DOTENV_TOP", 100).GetInt())
	assert.Equal(t, "from_environment", makeConfig("NETRANGE_TEST_DOTENV_DIR", "reports").GetString())
}

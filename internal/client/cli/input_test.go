package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetPassword(t *testing.T) {
	stubPasswords(t, "pw")
	var out bytes.Buffer

	got, err := GetPassword(&out, "Password")
	require.NoError(t, err)
	require.Equal(t, []byte("pw"), got)
	require.Equal(t, "Password: \n", out.String())
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out, "Password")
	require.Error(t, err)
}

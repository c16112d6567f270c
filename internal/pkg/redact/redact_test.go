package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Пакет unit-тестов для internal/pkg/redact.go.
//
// Покрытие (табличные тесты):
//   - Username: happy-path (ASCII), короткие имена (≤2 рун), пустая строка,
//     Unicode-имена (многобайтовые руны).
//   - Литералы Token/Password.

// TestUsername_Table — табличные тесты на маскирование username.
func TestUsername_Table(t *testing.T) {
	t.Parallel()

	type args struct {
		s string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{name: "ASCII_len_gt_2", args: args{"alice"}, want: "al***"},
		{name: "ASCII_len_3", args: args{"bob"}, want: "bo***"},
		{name: "ASCII_len_2", args: args{"ab"}, want: "***"},
		{name: "ASCII_len_1", args: args{"a"}, want: "***"},
		{name: "empty_string", args: args{""}, want: "***"},
		{name: "unicode_len_gt_2_runes", args: args{"юзернейм"}, want: "юз***"},
		{name: "unicode_len_2_runes", args: args{"юз"}, want: "***"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Username(tt.args.s)
			require.Equal(t, tt.want, got)
		})
	}
}

// TestLiterals_TokenAndPassword — литералы для токенов/паролей неизменны.
func TestLiterals_TokenAndPassword(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[REDACTED_TOKEN]", Token())
	require.Equal(t, "[REDACTED_PASSWORD]", Password())
}

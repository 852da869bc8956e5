package wikitext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherPage = `== Weather ==
Opening thoughts about tomorrow weather forecast. [[User:Alice|Alice]] ([[User talk:Alice|talk]]) 10:00, 12 May 2024 (UTC)
: Reply with observations from the station. [[User:Bob|Bob]] ([[User talk:Bob|talk]]) 10:05, 12 May 2024 (UTC)
:: Nested answer about the pressure readings. [[User:Carol|Carol]] ([[User talk:Carol|talk]]) 10:10, 12 May 2024 (UTC)
: Closing remark with the final numbers attached. [[User:Dave|Dave]] ([[User talk:Dave|talk]]) 10:15, 12 May 2024 (UTC)
`

func TestScan_OrderedSignatures(t *testing.T) {
	sigs := NewScanner(DefaultSettings()).Scan(weatherPage)
	require.Len(t, sigs, 4)

	authors := []string{"Alice", "Bob", "Carol", "Dave"}
	for i, sig := range sigs {
		assert.Equal(t, i, sig.SequenceID)
		assert.Equal(t, authors[i], sig.Author)
		assert.True(t, sig.DateValid)
		if i > 0 {
			assert.Greater(t, sig.StartIndex, sigs[i-1].EndIndex)
		}
		assert.Equal(t, weatherPage[sig.StartIndex:sig.EndIndex], sig.DirtyCode)
		assert.LessOrEqual(t, sig.CommentStartIndex, sig.StartIndex)
	}

	// The first comment's content starts after the heading, not at it.
	assert.Equal(t, "Opening", weatherPage[sigs[0].CommentStartIndex:sigs[0].CommentStartIndex+7])

	want := time.Date(2024, time.May, 12, 10, 5, 0, 0, time.UTC)
	assert.True(t, sigs[1].Date.Equal(want))
}

func TestScan_SignatureSpansAuthorLinkChain(t *testing.T) {
	sigs := NewScanner(DefaultSettings()).Scan(weatherPage)
	require.Len(t, sigs, 4)

	// Both links of "Alice ([[User talk:Alice|talk]])" belong to the signature.
	assert.Contains(t, sigs[0].DirtyCode, "[[User:Alice|Alice]]")
	assert.Contains(t, sigs[0].DirtyCode, "[[User talk:Alice|talk]]")
}

func TestScan_UndatedSentinel(t *testing.T) {
	code := "A bare remark with no author link at all. 11:00, 12 May 2024 (UTC)\n"
	sigs := NewScanner(DefaultSettings()).Scan(code)
	require.Len(t, sigs, 1)
	assert.Equal(t, UndatedAuthor, sigs[0].Author)
	assert.Equal(t, "11:00, 12 May 2024 (UTC)", sigs[0].Timestamp)
}

func TestScan_UnsignedTemplate(t *testing.T) {
	code := "Forgot to sign this one properly. {{unsigned|Eve|11:30, 12 May 2024 (UTC)}}\n"
	sigs := NewScanner(DefaultSettings()).Scan(code)
	require.Len(t, sigs, 1)
	assert.Equal(t, "Eve", sigs[0].Author)
	assert.Equal(t, "11:30, 12 May 2024 (UTC)", sigs[0].Timestamp)
	assert.True(t, sigs[0].DateValid)
	assert.Contains(t, sigs[0].DirtyCode, "{{unsigned|")
}

func TestScan_UnsignedUsernameNormalized(t *testing.T) {
	code := "Missing signature again. {{unsigned|Some_User|12:00, 12 May 2024 (UTC)}}\n"
	sigs := NewScanner(DefaultSettings()).Scan(code)
	require.Len(t, sigs, 1)
	assert.Equal(t, "Some User", sigs[0].Author)
}

func TestScan_NoTimestampPatternConfigured(t *testing.T) {
	settings, err := NewSettings(SettingsSpec{IndentationChar: ":"})
	require.NoError(t, err)

	sigs := NewScanner(settings).Scan(weatherPage)
	assert.Empty(t, sigs)
}

func TestScan_SkipsClosedWrapperBeforeComment(t *testing.T) {
	code := "{{hat|Resolved}}\nInside a closed block of discussion text. [[User:Alice|Alice]] 10:00, 12 May 2024 (UTC)\n{{hab}}\n"
	sigs := NewScanner(DefaultSettings()).Scan(code)
	require.Len(t, sigs, 1)
	assert.Equal(t, "Inside", code[sigs[0].CommentStartIndex:sigs[0].CommentStartIndex+6])
}

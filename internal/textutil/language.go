package textutil

// Language tags produced by DetectLanguage.
const (
	LangKorean  = "ko"
	LangEnglish = "en"
)

// DetectLanguage compares the number of Hangul syllables with the number of
// Latin letters. Ties, including text with neither, resolve to Korean.
func DetectLanguage(text string) string {
	hangul, latin := 0, 0
	for _, r := range text {
		switch {
		case r >= '가' && r <= '힣':
			hangul++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	if latin > hangul {
		return LangEnglish
	}
	return LangKorean
}

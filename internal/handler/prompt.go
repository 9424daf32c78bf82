package handler

import "fmt"

const (
	stylePrefix = "character design, professional illustration, concept art"
	styleSuffix = "detailed facial features, clean linework, soft cel shading, simple background, high quality, masterpiece"
)

// StylePrompt wraps the user's prompt in the house character style.
func StylePrompt(user string) string {
	return fmt.Sprintf("%s, %s, %s", stylePrefix, user, styleSuffix)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

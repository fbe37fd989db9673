package agent

import (
	"regexp"
	"strings"
)

var (
	// 整句匹配：带其它内容的消息不是确认或取消。
	confirmPattern = regexp.MustCompile(`^(?:(?:ok|okay|yes|yeah|yep|sure) )?(?:y|yes|yep|yeah|ok|okay|sure|confirm(?:ed)?|go ahead|proceed|do it|send it|book it|please do|approve[d]?)(?: please| thanks| thank you)?$`)
	cancelPattern  = regexp.MustCompile(`^(?:(?:no|nope) )?(?:n|no|nope|cancel(?: it| that)?|stop|abort|don'?t(?: send it| do it| book it)?|do not(?: send it| do it| book it)?|never ?mind|forget it|reject)(?: thanks| thank you)?$`)
	trimPunct      = strings.NewReplacer("!", " ", ".", " ", ",", " ", "?", " ")
)

// ParseDecision 从自由文本中识别确认或取消。
// 先判断取消，避免 "no, don't send it" 被识别为确认。
func ParseDecision(text string) (Decision, bool) {
	norm := strings.Join(strings.Fields(trimPunct.Replace(strings.ToLower(text))), " ")
	if norm == "" {
		return "", false
	}
	switch {
	case cancelPattern.MatchString(norm):
		return DecisionCancel, true
	case confirmPattern.MatchString(norm):
		return DecisionConfirm, true
	}
	return "", false
}

// isAbandon 判断用户是否想放弃正在补全的请求。
func isAbandon(text string) bool {
	norm := strings.Join(strings.Fields(trimPunct.Replace(strings.ToLower(text))), " ")
	switch norm {
	case "cancel", "stop", "abort", "never mind", "nevermind", "forget it", "forget about it", "cancel that", "no":
		return true
	}
	return false
}

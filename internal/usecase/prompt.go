package usecase

import (
	"fmt"
	"strings"
	"time"

	"assistant-agent/internal/domain"
)

var koreanWeekdays = [...]string{"일요일", "월요일", "화요일", "수요일", "목요일", "금요일", "토요일"}

type promptContext struct {
	now   time.Time
	loc   *time.Location
	owner string
}

func buildPromptMessages(pc promptContext, history []domain.Turn, text string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildSystemPrompt(pc)})
	for _, t := range history {
		if m, ok := historyToPromptMessage(t); ok {
			messages = append(messages, m)
		}
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})
}

func buildSystemPrompt(pc promptContext) string {
	now := pc.now.In(pc.loc)
	today := now.Format("2006-01-02")

	return strings.Join([]string{
		fmt.Sprintf("당신은 %s의 개인 일정/할일 비서입니다.", pc.owner),
		"간결하고 친근한 한국어로 답변하세요. 존댓말을 사용하세요.",
		"핵심만 답변하고 불필요한 설명은 생략하세요.",
		"",
		fmt.Sprintf("오늘: %s (%d년 %d월 %d일 %s)", today, now.Year(), int(now.Month()), now.Day(), koreanWeekdays[now.Weekday()]),
		fmt.Sprintf("현재 시각: %s", koreanClock(now)),
		fmt.Sprintf("시간대: %s (UTC%s)", pc.loc.String(), now.Format("-07:00")),
		"",
		"중요 규칙:",
		fmt.Sprintf("- 사용자가 \"내일\", \"모레\", \"다음주 월요일\" 등 상대적 시간 표현을 사용하면, 오늘 날짜(%s)를 기준으로 정확한 YYYY-MM-DD 날짜를 계산해서 tool에 전달하세요.", today),
		"- 시간은 24시간제 HH:MM 형식으로 tool에 전달하세요. \"오후 3시\"는 15:00입니다.",
		"- 여러 할일이나 일정을 동시에 요청하면, 각각에 대해 별도의 tool call을 만드세요.",
		"- 일정과 할일이 섞인 요청도 각각 적절한 tool로 처리하세요.",
		"- tool 실행 결과를 바탕으로 자연스러운 한국어 응답을 만들어주세요.",
	}, "\n")
}

// koreanClock renders a 12-hour clock the way ko-KR locales do, e.g. "오후 03:05".
func koreanClock(t time.Time) string {
	period := "오전"
	if t.Hour() >= 12 {
		period = "오후"
	}
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%s %02d:%02d", period, h, t.Minute())
}

func historyToPromptMessage(t domain.Turn) (domain.ChatMessage, bool) {
	content := strings.TrimSpace(t.Content)
	if content == "" {
		return domain.ChatMessage{}, false
	}
	switch t.Role {
	case domain.RoleUser, domain.RoleAssistant:
		return domain.ChatMessage{Role: t.Role, Content: content}, true
	}
	return domain.ChatMessage{}, false
}

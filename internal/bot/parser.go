package bot

import "strings"

// CommandParser парсит команды с префиксами !, . и /
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", ".", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @имя_бота у команды отбрасывается: /buy@GrowStoreBot → buy.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}

package bot

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/bot/filters"
	"serotonyl.ru/growstore-bot/internal/bot/middleware"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/locks"
)

// Settings — параметры командного слоя.
type Settings struct {
	// ResponseWait — сколько ждать завершения предыдущей команды того же пользователя.
	ResponseWait time.Duration
	// CommandTimeout — предел выполнения одной команды.
	CommandTimeout time.Duration
	MaxFileBytes   int64
}

// DefaultSettings — значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		ResponseWait:   time.Second,
		CommandTimeout: 30 * time.Second,
		MaxFileBytes:   5 << 20,
	}
}

// Call — разобранная команда вместе с запросом.
type Call struct {
	Req     Request
	Invoker string
	Command string
	Args    []string
}

// Arg возвращает i-й аргумент или "".
func (c *Call) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Rest склеивает аргументы начиная с i.
func (c *Call) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

type handlerFunc func(ctx context.Context, c *Call) (string, error)

type command struct {
	name    string
	aliases []string
	usage   string
	admin   bool
	// minArgs — меньше аргументов: показываем usage.
	minArgs int
	run     handlerFunc
}

// Dispatcher принимает команды от транспорта, проверяет доступ и вызывает обработчик.
// Одновременно у пользователя выполняется не больше одной команды.
type Dispatcher struct {
	svc      Services
	parser   *CommandParser
	access   *filters.AccessFilter
	limiter  *middleware.RateLimiter
	locks    locks.Locker
	cfg      Settings
	commands map[string]*command
	ordered  []*command
}

// NewDispatcher создаёт диспетчер со всеми командами магазина.
func NewDispatcher(svc Services, l locks.Locker, limiter *middleware.RateLimiter, cfg Settings) *Dispatcher {
	def := DefaultSettings()
	if cfg.ResponseWait <= 0 {
		cfg.ResponseWait = def.ResponseWait
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}

	d := &Dispatcher{
		svc:      svc,
		parser:   NewCommandParser(),
		access:   filters.NewAccessFilter(svc.Admin),
		limiter:  limiter,
		locks:    l,
		cfg:      cfg,
		commands: make(map[string]*command),
	}
	for _, c := range d.userCommands() {
		d.register(c)
	}
	for _, c := range d.adminCommands() {
		c.admin = true
		d.register(c)
	}
	return d
}

func (d *Dispatcher) register(c *command) {
	d.ordered = append(d.ordered, c)
	d.commands[c.name] = c
	for _, a := range c.aliases {
		d.commands[a] = c
	}
}

// Handle обрабатывает одно сообщение. handled=false — это не команда.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (res common.Result, handled bool) {
	name, args, ok := d.parser.ParseCommand(req.Text())
	if !ok {
		return common.Result{}, false
	}

	invoker := req.InvokerID()
	middleware.LogCommand(invoker, name, args)

	if d.limiter != nil && !d.limiter.Allow(invoker) {
		log.WithField("external_id", invoker).Debug("rate limited")
		return common.Fail(common.ErrRateLimited), true
	}

	cmd, ok := d.commands[name]
	if !ok {
		return d.reply(ctx, req, common.Fail(common.ErrUnknownCommand)), true
	}

	if err := d.access.Check(ctx, invoker); err != nil {
		return d.reply(ctx, req, common.Fail(err)), true
	}

	if cmd.admin {
		if err := d.authorize(ctx, cmd, invoker); err != nil {
			return d.reply(ctx, req, common.Fail(err)), true
		}
	}

	if len(args) < cmd.minArgs {
		return d.reply(ctx, req, common.Fail(common.Validationf("использование: %s", cmd.usage))), true
	}

	key := locks.Response(invoker)
	if !d.locks.Acquire(ctx, key, d.cfg.ResponseWait) {
		return d.reply(ctx, req, common.Fail(common.ErrRequestInProgress)), true
	}
	defer d.locks.Release(key)

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	started := time.Now()
	text, err := cmd.run(runCtx, &Call{Req: req, Invoker: invoker, Command: cmd.name, Args: args})
	middleware.LogResult(invoker, cmd.name, time.Since(started), err)

	return d.reply(ctx, req, common.From(nil, err, text)), true
}

// authorize проверяет права на админ-команду. Для login достаточно быть в ADMIN_IDS.
func (d *Dispatcher) authorize(ctx context.Context, cmd *command, invoker string) error {
	if cmd.name == "login" {
		if !d.svc.Admin.IsAdmin(invoker) {
			return common.ErrNotAdmin
		}
		return nil
	}
	return d.svc.Admin.Authorize(ctx, invoker)
}

func (d *Dispatcher) reply(ctx context.Context, req Request, res common.Result) common.Result {
	text := res.Message
	if !res.Success {
		text = "❌ " + res.Error
	}
	if text == "" {
		return res
	}
	if err := req.Reply(ctx, text); err != nil {
		log.WithError(err).WithField("external_id", req.InvokerID()).Error("Ошибка отправки ответа")
	}
	return res
}

// help — список команд. Админ-команды видят только администраторы.
func (d *Dispatcher) help(invoker string) string {
	isAdmin := d.svc.Admin.IsAdmin(invoker)

	var sb strings.Builder
	sb.WriteString("🛒 Команды магазина:\n")
	for _, c := range d.ordered {
		if !c.admin {
			sb.WriteString("!" + c.usage + "\n")
		}
	}
	if isAdmin {
		sb.WriteString("\n🔧 Админ-команды:\n")
		for _, c := range d.ordered {
			if c.admin {
				sb.WriteString("!" + c.usage + "\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// MenuItem — команда для меню мессенджера.
type MenuItem struct {
	Command     string
	Description string
}

// Menu — пользовательские команды для меню мессенджера.
func (d *Dispatcher) Menu() []MenuItem {
	var out []MenuItem
	for _, c := range d.ordered {
		if c.admin {
			continue
		}
		desc := c.usage
		if _, after, ok := strings.Cut(c.usage, " — "); ok {
			desc = after
		}
		out = append(out, MenuItem{Command: c.name, Description: desc})
	}
	return out
}

package logsvc

import (
	"fmt"
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/capstone/core"
)

// RollbarLogger writes every entry to a std logger and reports it to rollbar.
// Args may carry an error, a map of extras and the acting core.Identity; anything else is
// reported under the "args" extra.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Flush waits for queued reports to be sent.
func (l RollbarLogger) Flush() {
	rollbar.Wait()
}

type entry struct {
	err    error
	extras map[string]interface{}
	actor  core.Identity
	other  []interface{}
}

func parseArgs(args []interface{}) entry {
	var e entry
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			if e.err == nil {
				e.err = v
				continue
			}
			e.other = append(e.other, v.Error())
		case map[string]interface{}:
			if e.extras == nil {
				e.extras = make(map[string]interface{}, len(v))
			}
			for k, val := range v {
				e.extras[k] = val
			}
		case core.Identity:
			if e.actor.Email == "" {
				e.actor = v
			}
		default:
			e.other = append(e.other, arg)
		}
	}
	return e
}

func (l RollbarLogger) report(level, msg string, e entry) {
	if e.actor.Email != "" {
		rollbar.SetPerson(e.actor.Email, string(e.actor.Role), e.actor.Email)
	} else {
		rollbar.ClearPerson()
	}

	extras := map[string]interface{}{"message": msg}
	for k, v := range e.extras {
		extras[k] = v
	}
	if len(e.other) > 0 {
		extras["args"] = e.other
	}

	if e.err != nil {
		rollbar.ErrorWithExtras(level, e.err, extras)
		return
	}
	rollbar.MessageWithExtras(level, msg, extras)
}

func (l RollbarLogger) print(level, msg string, e entry) {
	l.std.Println(level + " " + msg)
	if e.err != nil {
		l.std.Printf("%+v\n", e.err)
	}
	if len(e.extras) > 0 {
		l.std.Printf("%v\n", e.extras)
	}
	for _, arg := range e.other {
		l.std.Println(fmt.Sprint(arg))
	}
}

func (l RollbarLogger) log(level, label, msg string, args []interface{}) {
	e := parseArgs(args)
	l.report(level, msg, e)
	l.print(label, msg, e)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, "DEBUG", msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, "INFO", msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, "WARN", msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, "ERROR", msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, "FATAL", msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}

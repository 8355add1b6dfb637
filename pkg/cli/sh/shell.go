package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/grinder/pkg/env/connector"
	"github.com/robotalks/grinder/pkg/framework"
	"github.com/robotalks/grinder/pkg/host"
	"github.com/robotalks/grinder/pkg/l0/comm"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	Timeout     time.Duration

	Shell  *ishell.Shell
	Config *connector.Config
	Conn   *Conn
}

// Conn is a running connection to the appliance.
type Conn struct {
	Ctx     context.Context
	Cancel  func()
	Session *connector.Session

	lock   sync.Mutex
	latest map[comm.DriverID]host.Status
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = 2 * time.Second

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Command timeout.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *connector.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// PayloadName is the type name of a payload for display.
func PayloadName(p comm.Payload) string {
	return reflect.Indirect(reflect.ValueOf(p)).Type().Name()
}

// FormatStatus prints a status into friendly string for display.
func FormatStatus(st host.Status) string {
	return fmt.Sprintf("%s: [%s] %v", st.Driver, PayloadName(st.Payload), st.Payload)
}

type commandResult struct {
	Counter comm.MsgCounter `json:"counter"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
}

// DoCommand runs a command and waits for result.
func DoCommand(c *ishell.Context, driver comm.DriverID, payload comm.Payload) (err error) {
	s := ShellFrom(c)
	if s.Conn == nil {
		err = fmt.Errorf("not connected")
		c.Err(err)
		return
	}
	ctx, cancel := context.WithTimeout(s.Conn.Ctx, s.Timeout)
	defer cancel()
	res := s.Conn.Session.Controller.Do(driver, payload).Wait(ctx)
	if s.OutputJSON {
		out := commandResult{Counter: res.Counter, OK: res.Err == nil}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		encoded, _ := json.Marshal(out)
		c.Println(string(encoded))
		return res.Err
	}
	if res.Err != nil {
		c.Err(res.Err)
		return res.Err
	}
	c.Println("OK")
	return nil
}

// Connect connects the appliance at the configured link.
func (s *Shell) Connect() error {
	conn := &Conn{latest: make(map[comm.DriverID]host.Status)}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	session, err := s.Config.Connect(framework.NewRunnerWith(conn.Ctx))
	if err != nil {
		conn.Cancel()
		return err
	}
	conn.Session = session
	go conn.collect()
	if s.Conn != nil {
		s.Conn.close()
	}
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", s.Config.LinkURL))
	return nil
}

// Disconnect disconnects current appliance.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (c *Conn) close() {
	c.Cancel()
	c.Session.Close()
}

func (c *Conn) collect() {
	for {
		select {
		case <-c.Ctx.Done():
			return
		case st := <-c.Session.Controller.StatusChan():
			c.lock.Lock()
			c.latest[st.Driver] = st
			c.lock.Unlock()
		}
	}
}

// Latest returns the last status of each driver ordered by driver id.
func (c *Conn) Latest() []host.Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	list := make([]host.Status, 0, len(c.latest))
	for _, st := range c.latest {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Driver < list[j].Driver })
	return list
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.LinkURL)
		}
		if err := s.Connect(); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.LinkURL, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

var (
	// ConnectCmd connects the appliance.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[LINK_URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				s.Config.LinkURL = c.Args[0]
			}
			if err := s.Connect(); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current appliance.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// StatusCmd prints the last status reported by each driver.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			latest := s.Conn.Latest()
			if s.OutputJSON {
				out := make(map[string]comm.Payload, len(latest))
				for _, st := range latest {
					out[st.Driver.String()] = st.Payload
				}
				encoded, err := json.Marshal(out)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(encoded))
				return
			}
			if len(latest) == 0 {
				c.Println("No status received")
				return
			}
			for _, st := range latest {
				c.Println(FormatStatus(st))
			}
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(connector.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}

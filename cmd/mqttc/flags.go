package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/augbari/mqttc"
	"github.com/augbari/mqttc/internal/config"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// commonFlags are shared by sub and pub.
type commonFlags struct {
	configPath string
	broker     string
	clientID   string
	username   string
	password   string
	topics     stringList
	qos        int
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to YAML configuration file")
	fs.StringVar(&f.broker, "b", "", "broker URL (overrides configuration)")
	fs.StringVar(&f.clientID, "i", "", "client identifier (overrides configuration)")
	fs.StringVar(&f.username, "u", "", "username")
	fs.StringVar(&f.password, "P", "", "password")
	fs.Var(&f.topics, "t", "topic or topic filter (repeatable)")
	fs.IntVar(&f.qos, "q", 0, "quality of service (0, 1 or 2)")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse parses args and checks the flags common to both commands.
func (f *commonFlags) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	if len(f.topics) == 0 {
		return fmt.Errorf("%w: at least one -t is required", errUsage)
	}
	if f.qos < 0 || f.qos > 2 {
		return fmt.Errorf("%w: -q must be 0, 1 or 2", errUsage)
	}
	return nil
}

func (f *commonFlags) QoS() mqttc.QoS {
	return mqttc.QoS(f.qos)
}

// loadConfig loads the configuration and applies flag overrides.
func (f *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath, ".env")
	if err != nil {
		return nil, err
	}
	if f.broker != "" {
		cfg.Broker.URL = f.broker
	}
	if f.clientID != "" {
		cfg.Broker.ClientID = f.clientID
	}
	if f.username != "" {
		cfg.Broker.Username = f.username
	}
	if f.password != "" {
		cfg.Broker.Password = f.password
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return cfg, nil
}

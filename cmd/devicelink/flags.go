package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/config"
)

// options holds the command-line values. Empty strings mean "not given" so
// the config file and environment keep their values.
type options struct {
	configPath   string
	provisionKey string

	projectID      string
	devicePath     string
	publishTopic   string
	publishMessage string
	keyFile        string
	host           string
	qos            int
	qosSet         bool
}

// parseFlags parses args. Each option accepts a short and a long name, with one
// or two leading dashes (-p, --project_id).
func parseFlags(args []string, out io.Writer) (*options, error) {
	o := &options{}

	fs := flag.NewFlagSet("devicelink", flag.ContinueOnError)
	fs.SetOutput(out)

	pair := func(dst *string, short, long, usage string) {
		fs.StringVar(dst, short, "", usage)
		fs.StringVar(dst, long, "", usage+" (same as -"+short+")")
	}
	pair(&o.projectID, "p", "project_id", "cloud project id (required)")
	pair(&o.devicePath, "d", "device_path", "full device path, used as the client id (required)")
	pair(&o.publishTopic, "t", "publish_topic", "topic for the periodic publish (required)")
	pair(&o.publishMessage, "m", "publish_message", "message to publish")
	pair(&o.keyFile, "f", "private_key_filename", "private key file name")
	pair(&o.host, "h", "host", "broker host name")
	fs.IntVar(&o.qos, "q", 0, "publish QoS (0, 1 or 2)")
	fs.IntVar(&o.qos, "qos", 0, "publish QoS (same as -q)")

	fs.StringVar(&o.configPath, "config", defaultConfigPath(), "configuration file (optional)")
	fs.StringVar(&o.provisionKey, "provision_key", "", "import this PEM file into the sqlite credential store and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "q" || f.Name == "qos" {
			o.qosSet = true
		}
	})
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// defaultConfigPath honours DEVICELINK_CONFIG; with neither flag nor
// variable the agent runs on defaults plus flags.
func defaultConfigPath() string {
	return os.Getenv("DEVICELINK_CONFIG")
}

// apply overlays the given flags on cfg.
func (o *options) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Device.ProjectID, o.projectID)
	set(&cfg.Device.DevicePath, o.devicePath)
	set(&cfg.Publish.Topic, o.publishTopic)
	set(&cfg.Publish.Message, o.publishMessage)
	set(&cfg.Credentials.PrivateKeyFile, o.keyFile)
	set(&cfg.MQTT.Broker.Host, o.host)
	if o.qosSet {
		cfg.Publish.QoS = o.qos
	}
}

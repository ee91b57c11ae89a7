// Package cmd provides utilities that underlie the specific commands. The
// idea is to keep each command's main() small:
//
//	func main() {
//	  var conf cmd.Config
//	  cmd.FailOnError(cmd.ReadConfigFile(*configFile, &conf), "reading config")
//	  scope, logger := cmd.StatsAndLogging(conf.Syslog)
//	  ...
//	}
//
// Every command takes a "-config" flag naming a JSON file that
// unmarshals into a Config; ca-server and ocsp-responder also take a
// "-bootstrap" flag.
package cmd

import (
	"encoding/json"
	"expvar"
	"fmt"
	"io/ioutil"
	"log"
	"log/syslog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blog "github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
)

func init() {
	for _, v := range os.Args {
		if v == "--version" || v == "-version" {
			fmt.Println(VersionString())
			os.Exit(0)
		}
	}
}

// StatsAndLogging constructs a metrics.Scope and an AuditLogger based on
// its config parameters and returns them both. Crashes if setup fails.
func StatsAndLogging(logConf SyslogConfig) (metrics.Scope, blog.Logger) {
	scope := metrics.NewPromScope(prometheus.DefaultRegisterer)

	tag := path.Base(os.Args[0])
	syslogger, err := syslog.Dial("", "", syslog.LOG_INFO, tag)
	FailOnError(err, "could not connect to syslog")
	syslogLevel := int(syslog.LOG_INFO)
	if logConf.SyslogLevel != 0 {
		syslogLevel = logConf.SyslogLevel
	}
	logger, err := blog.New(syslogger, logConf.StdoutLevel, syslogLevel)
	FailOnError(err, "could not construct logger")
	return scope, logger
}

// FailOnError exits and prints an error message if we encountered a
// problem.
func FailOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}

// DebugServer starts a server exposing Prometheus metrics and Go's
// built-in expvar/pprof endpoints. Typical usage is to start it in a
// goroutine, configured with an address from the appropriate
// configuration object:
//
//	go cmd.DebugServer(conf.CA.DebugAddr)
func DebugServer(addr string) {
	_ = expvar.NewMap("enabled-features")
	if addr == "" {
		log.Fatalf("unable to boot debug server because no address was given for it")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("unable to boot debug server on %#v", addr)
	}
	http.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(ln, nil); err != nil {
		log.Fatalf("unable to boot debug server: %v", err)
	}
}

// ReadConfigFile unmarshals the JSON content of filename into out.
func ReadConfigFile(filename string, out interface{}) error {
	configData, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(configData, out)
}

// VersionString produces a friendly application version string.
func VersionString() string {
	name := path.Base(os.Args[0])
	return fmt.Sprintf("%s Golang=(%s)", name, runtime.Version())
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals catches SIGTERM, SIGINT and SIGHUP and runs callback
// before exiting.
func CatchSignals(logger blog.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info(fmt.Sprintf("caught %s", signalToName[sig]))
	if callback != nil {
		callback()
	}
	logger.Info("exiting")
	os.Exit(0)
}

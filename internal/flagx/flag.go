// Package flagx lets several flag sets share one command line. Each
// component picks out the flags it owns and leaves the rest alone.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// normalize maps --name to -name; the flag package treats both the same.
func normalize(name string) string {
	if strings.HasPrefix(name, "--") {
		return name[1:]
	}
	return name
}

// Split partitions args into the allowed flags with their values and
// everything else. Both "-f value" and "-f=value" forms are recognised. A
// following argument that starts with "-" is never taken as a value.
func Split(args []string, allowedFlags []string) (own, rest []string) {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[normalize(f)] = struct{}{}
	}

	own = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[normalize(name)]; ok {
				own = append(own, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		if _, ok := allowed[normalize(arg)]; !ok {
			rest = append(rest, arg)
			continue
		}
		own = append(own, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			own = append(own, args[i+1])
			i++
		}
	}
	return own, rest
}

// FilterArgs returns only the allowed flags of args and their values.
func FilterArgs(args []string, allowedFlags []string) []string {
	own, _ := Split(args, allowedFlags)
	return own
}

// ConfigFile returns the path given with -c or -config; the last one wins.
func ConfigFile(args []string) string {
	var config string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "path to config file")
	fs.StringVar(&config, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}

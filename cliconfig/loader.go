// Package cliconfig loads command configuration structs from CLI flags,
// environment variables and an optional config file.
//
// It is intended for internal use by doppler-secrets-fetch only.
package cliconfig

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/internal/osutil"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

// Loader fills Config from the CLI context. Config must be a pointer to a
// struct whose fields carry these tags:
//
//	cli:"name"          the flag (and config file key) to read
//	cli:"arg:0"         a positional argument
//	normalize:"list"    split comma-separated entries, trimming each
//	normalize:"filepath" expand ~ and env vars, make absolute
//	validate:"required" fail if the value is empty
//	deprecated:"msg"    warn if the value is set
//	label:"name"        used in validation messages instead of the flag
type Loader struct {
	// The context that is passed when using a urfave/cli action
	CLI *cli.Context

	// The struct that the config values will be loaded into
	Config any

	Logger logger.Logger

	// Config files to try, in order, when --config isn't given.
	DefaultConfigFilePaths []string

	// The file that was used when loading this configuration
	File *File
}

// Load loads the config and returns any warnings about it. Values from
// flags and their environment variables take precedence over the config
// file.
func (l *Loader) Load() (warnings []string, err error) {
	if err := l.findFile(); err != nil {
		return nil, err
	}
	if l.File != nil {
		if err := l.File.Load(); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	fields, err := reflections.FieldsDeep(l.Config)
	if err != nil {
		return nil, fmt.Errorf("listing config fields: %w", err)
	}

	for _, fieldName := range fields {
		w, err := l.loadField(fieldName)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}

	return warnings, nil
}

func (l *Loader) findFile() error {
	if path := l.CLI.String("config"); path != "" {
		file := File{Path: path}
		// It was asked for explicitly, so it has to be there.
		if !file.Exists() {
			absolutePath, _ := file.AbsolutePath()
			return fmt.Errorf("a configuration file could not be found at: %q", absolutePath)
		}
		l.File = &file
		return nil
	}

	for _, path := range l.DefaultConfigFilePaths {
		file := File{Path: path}
		if file.Exists() {
			l.File = &file
			return nil
		}
	}
	return nil
}

func (l *Loader) loadField(fieldName string) (warnings []string, err error) {
	cliName, _ := reflections.GetFieldTag(l.Config, fieldName, "cli")
	if cliName != "" {
		if err := l.setFieldValueFromCLI(fieldName, cliName); err != nil {
			return nil, fmt.Errorf("setting config field %s: %w", fieldName, err)
		}
	}

	if normalization, _ := reflections.GetFieldTag(l.Config, fieldName, "normalize"); normalization != "" {
		if err := l.normalizeField(fieldName, normalization); err != nil {
			return nil, fmt.Errorf("normalizing config field %s: %w", fieldName, err)
		}
	}

	if msg, _ := reflections.GetFieldTag(l.Config, fieldName, "deprecated"); msg != "" && !l.fieldValueIsEmpty(fieldName) {
		warnings = append(warnings, fmt.Sprintf("The config option `%s` has been deprecated: %s", cliName, msg))
	}

	if rules, _ := reflections.GetFieldTag(l.Config, fieldName, "validate"); rules != "" {
		label, _ := reflections.GetFieldTag(l.Config, fieldName, "label")
		if label == "" {
			label = cliName
		}
		if label == "" {
			label = fieldName
		}
		if err := l.validateField(fieldName, label, rules); err != nil {
			return warnings, err
		}
	}

	return warnings, nil
}

// Matches "arg:index" (specific non-flag arg) or "arg:*" (all non-flag args).
var argCLINameRE = regexp.MustCompile(`^arg:(\d+|\*)$`)

func (l Loader) setFieldValueFromCLI(fieldName, cliName string) error {
	fieldKind, err := reflections.GetFieldKind(l.Config, fieldName)
	if err != nil {
		return fmt.Errorf("getting the kind of struct field %q: %w", fieldName, err)
	}
	fieldType, err := reflections.GetFieldType(l.Config, fieldName)
	if err != nil {
		return fmt.Errorf("getting the type of struct field %q: %w", fieldName, err)
	}

	var value any

	// Positional arguments: "arg:N" or "arg:*".
	if m := argCLINameRE.FindStringSubmatch(cliName); m != nil {
		args := l.CLI.Args()
		if m[1] == "*" {
			value = []string(args)
		} else if i, _ := strconv.Atoi(m[1]); i < len(args) {
			value = args[i]
		}
		if value == nil {
			return nil
		}
		return reflections.SetField(l.Config, fieldName, value)
	}

	// The config file provides the default...
	if l.File != nil {
		if fileValue, ok := l.File.Config[cliName]; ok {
			value, err = convertFileValue(fileValue, fieldKind, fieldType)
			if err != nil {
				return err
			}
		}
	}

	// ...which the CLI (or its env vars) can override.
	if value == nil || l.cliValueIsSet(cliName) {
		switch fieldKind {
		case reflect.String:
			value = l.CLI.String(cliName)
		case reflect.Slice:
			value = l.CLI.StringSlice(cliName)
		case reflect.Bool:
			value = l.CLI.Bool(cliName)
		case reflect.Int:
			value = l.CLI.Int(cliName)
		case reflect.Int64:
			if fieldType != "time.Duration" {
				return fmt.Errorf("unsupported field type %s for kind int64", fieldType)
			}
			value = l.CLI.Duration(cliName)
		default:
			return fmt.Errorf("unable to handle type: %s", fieldKind)
		}
	}

	if err := reflections.SetField(l.Config, fieldName, value); err != nil {
		return fmt.Errorf("setting value field %q to %q: %w", fieldName, value, err)
	}
	return nil
}

func convertFileValue(v string, kind reflect.Kind, typ string) (any, error) {
	switch kind {
	case reflect.String:
		return v, nil
	case reflect.Slice:
		return strings.Split(v, ","), nil
	case reflect.Bool:
		b, _ := strconv.ParseBool(v)
		return b, nil
	case reflect.Int:
		i, _ := strconv.Atoi(v)
		return i, nil
	case reflect.Int64:
		if typ != "time.Duration" {
			return nil, fmt.Errorf("unsupported field type %s for kind int64", typ)
		}
		d, _ := time.ParseDuration(v)
		return d, nil
	default:
		return nil, fmt.Errorf("unable to convert string to type %s", kind)
	}
}

func (l Loader) Errorf(format string, v ...any) error {
	suffix := fmt.Sprintf(" See: `%s %s --help`", l.CLI.App.Name, l.CLI.Command.Name)

	return fmt.Errorf(format+suffix, v...)
}

// cliValueIsSet reports whether the flag was given on the command line or
// through one of its environment variables. cli.Context.IsSet only knows
// about the former.
func (l Loader) cliValueIsSet(cliName string) bool {
	if l.CLI.IsSet(cliName) {
		return true
	}

	for _, flag := range l.CLI.Command.Flags {
		name, _ := reflections.GetField(flag, "Name")
		envVar, _ := reflections.GetField(flag, "EnvVar")
		if name != cliName {
			continue
		}
		envVarStr, ok := envVar.(string)
		if !ok {
			return false
		}
		// EnvVar may list several variables, separated by commas.
		for env := range strings.SplitSeq(envVarStr, ",") {
			if env = strings.TrimSpace(env); env != "" && os.Getenv(env) != "" {
				return true
			}
		}
		return false
	}

	return false
}

func (l Loader) fieldValueIsEmpty(fieldName string) bool {
	value, _ := reflections.GetField(l.Config, fieldName)
	fieldKind, _ := reflections.GetFieldKind(l.Config, fieldName)

	switch fieldKind {
	case reflect.String:
		return value == ""
	case reflect.Slice:
		return reflect.ValueOf(value).Len() == 0
	case reflect.Bool:
		return value == false
	case reflect.Int:
		return value == 0
	case reflect.Int64:
		return reflect.ValueOf(value).Int() == 0
	default:
		panic(fmt.Sprintf("Can't determine empty-ness for field type %s", fieldKind))
	}
}

func (l Loader) validateField(fieldName, label, validationRules string) error {
	for rule := range strings.SplitSeq(validationRules, ",") {
		switch rule {
		case "required":
			if l.fieldValueIsEmpty(fieldName) {
				return l.Errorf("Missing %s.", label)
			}

		case "file-exists":
			value, _ := reflections.GetField(l.Config, fieldName)
			if path, ok := value.(string); ok && path != "" {
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("couldn't find %s located at %s: %w", label, path, err)
				}
			}

		default:
			return fmt.Errorf("unknown config validation rule %q", rule)
		}
	}

	return nil
}

func (l Loader) normalizeField(fieldName, normalization string) error {
	value, _ := reflections.GetField(l.Config, fieldName)
	fieldKind, _ := reflections.GetFieldKind(l.Config, fieldName)

	switch normalization {
	case "filepath":
		path, ok := value.(string)
		if fieldKind != reflect.String || !ok {
			return fmt.Errorf("filepath normalization only works on string fields")
		}
		normalized, err := osutil.NormalizeFilePath(path)
		if err != nil {
			return err
		}
		return reflections.SetField(l.Config, fieldName, normalized)

	case "list":
		list, ok := value.([]string)
		if fieldKind != reflect.Slice || !ok {
			return fmt.Errorf("list normalization only works on slice fields")
		}
		normalized := []string{}
		for _, v := range list {
			for item := range strings.SplitSeq(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					normalized = append(normalized, item)
				}
			}
		}
		return reflections.SetField(l.Config, fieldName, normalized)

	default:
		return fmt.Errorf("unknown normalization %q", normalization)
	}
}

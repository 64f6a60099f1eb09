package utils

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/yudai/hcl"

	"mcpintercept/pkg/homedir"
)

// EnvPrefix is prepended to the upper-cased flag name to form its
// environment variable.
const EnvPrefix = "MCPINTERCEPT_"

// GenerateFlags builds cli flags from the flagName, flagSName and
// flagDescribe tags of the given option structs. The current field values
// become the flag defaults. mappings maps flag names to field names.
func GenerateFlags(options ...interface{}) (flags []cli.Flag, mappings map[string]string, err error) {
	mappings = make(map[string]string)

	for _, struct_ := range options {
		o := structs.New(struct_)
		for _, field := range o.Fields() {
			flagName := field.Tag("flagName")
			if flagName == "" {
				continue
			}
			if _, exists := mappings[flagName]; exists {
				return nil, nil, errors.Errorf("flag `%s` is defined twice", flagName)
			}
			envName := EnvPrefix + strings.ToUpper(strings.Join(strings.Split(flagName, "-"), "_"))
			mappings[flagName] = field.Name()

			var aliases []string
			if flagShortName := field.Tag("flagSName"); flagShortName != "" {
				aliases = []string{flagShortName}
			}

			flagDescription := field.Tag("flagDescribe")

			switch field.Kind() {
			case reflect.String:
				flags = append(flags, &cli.StringFlag{
					Name:    flagName,
					Aliases: aliases,
					Value:   field.Value().(string),
					Usage:   flagDescription,
					EnvVars: []string{envName},
				})
			case reflect.Bool:
				flags = append(flags, &cli.BoolFlag{
					Name:    flagName,
					Aliases: aliases,
					Usage:   flagDescription,
					EnvVars: []string{envName},
				})
			case reflect.Int:
				flags = append(flags, &cli.IntFlag{
					Name:    flagName,
					Aliases: aliases,
					Value:   field.Value().(int),
					Usage:   flagDescription,
					EnvVars: []string{envName},
				})
			default:
				return nil, nil, errors.Errorf("unsupported type `%s` for flag `%s`", field.Kind(), flagName)
			}
		}
	}

	return
}

// ApplyFlags copies the flags the user actually set into the option structs.
func ApplyFlags(
	flags []cli.Flag,
	mappingHint map[string]string,
	c *cli.Context,
	options ...interface{},
) {
	objects := make([]*structs.Struct, len(options))
	for i, struct_ := range options {
		objects[i] = structs.New(struct_)
	}

	for flagName, fieldName := range mappingHint {
		if !c.IsSet(flagName) {
			continue
		}
		var field *structs.Field
		var ok bool
		for _, o := range objects {
			field, ok = o.FieldOk(fieldName)
			if ok && field.Tag("flagName") == flagName {
				break
			}
			field = nil
		}
		if field == nil {
			continue
		}
		var val interface{}
		switch field.Kind() {
		case reflect.String:
			val = c.String(flagName)
		case reflect.Bool:
			val = c.Bool(flagName)
		case reflect.Int:
			val = c.Int(flagName)
		}
		field.Set(val)
	}
}

// ApplyConfigFile decodes the HCL file at filePath into each option struct.
// A missing file is reported with an error satisfying os.IsNotExist.
func ApplyConfigFile(filePath string, options ...interface{}) error {
	filePath = homedir.Expand(filePath)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return err
	}

	fileString, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file `%s`", filePath)
	}

	for _, object := range options {
		if err := hcl.Decode(object, string(fileString)); err != nil {
			return errors.Wrapf(err, "failed to parse config file `%s`", filePath)
		}
	}

	return nil
}

// ApplyDefaultValues sets every field that carries a default tag.
func ApplyDefaultValues(struct_ interface{}) (err error) {
	o := structs.New(struct_)

	for _, field := range o.Fields() {
		defaultValue := field.Tag("default")
		if defaultValue == "" {
			continue
		}
		var val interface{}
		switch field.Kind() {
		case reflect.String:
			val = defaultValue
		case reflect.Bool:
			if defaultValue == "true" {
				val = true
			} else if defaultValue == "false" {
				val = false
			} else {
				return errors.Errorf("invalid default value for field `%s`: %s", field.Name(), defaultValue)
			}
		case reflect.Int:
			val, err = strconv.Atoi(defaultValue)
			if err != nil {
				return errors.Wrapf(err, "invalid default value for field `%s`", field.Name())
			}
		default:
			val = field.Value()
		}
		field.Set(val)
	}

	return nil
}

// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// hookFunc mirrors the teacher's cfg.hookFunc: viper/mapstructure has
// no built-in notion of a base-8 string, so Octal needs an explicit
// decode hook rather than relying on encoding.TextUnmarshaler, which
// mapstructure does not invoke by default.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(Octal(0)) {
			return data, nil
		}
		return strconv.ParseInt(data.(string), 8, 32)
	}
}

// DecoderConfigOption is passed to viper.Unmarshal so Octal fields
// decode correctly, preserving viper's usual default hooks. It also
// matches struct fields by their yaml tags, which carry the hyphenated
// key names (file-system, log-file, ...) viper stores.
func DecoderConfigOption(c *mapstructure.DecoderConfig) {
	c.TagName = "yaml"
	c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		hookFunc(),
	)
}

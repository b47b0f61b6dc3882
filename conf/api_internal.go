// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// .include nesting beyond this is assumed to be a loop
const maxIncludeDepth = 16

const (
	assignment   = "([ \t]*[=:][ \t]*)"
	dot          = "(\\.)"
	leftBracket  = "(\\[)"
	rightBracket = "(\\])"
	sectionName  = "([0-9A-Za-z_\\-/:\\.]+)"
	separator    = "([ \t]+|([ \t]*,[ \t]*))"
	token        = "(([0-9A-Za-z_\\*\\-/:\\.\\[\\]]+)\\$?)"
	whiteSpace   = "([ \t]+)"
)

var (
	stringRE                    = regexp.MustCompile("\\A" + token + dot + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
	sectionOptionSeparatorRE    = regexp.MustCompile(dot)
	sectionHeaderLineRE         = regexp.MustCompile("\\A" + leftBracket + token + rightBracket + "\\z")
	sectionNameRE               = regexp.MustCompile(sectionName)
	optionLineRE                = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
	optionNameValuesSeparatorRE = regexp.MustCompile(assignment)
	optionValueSeparatorRE      = regexp.MustCompile(separator)
	includeLineRE               = regexp.MustCompile("\\A\\.include" + whiteSpace + token + "\\z")
	includePathSeparatorRE      = regexp.MustCompile(whiteSpace)
)

func parseConfString(confString string) (sectionName string, optionName string, optionValues []string, err error) {
	confStringTrimmed := strings.Trim(confString, " \t")

	if 0 == len(confStringTrimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	if !stringRE.MatchString(confStringTrimmed) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	sectionAndPayload := sectionOptionSeparatorRE.Split(confStringTrimmed, 2)
	sectionName = sectionAndPayload[0]

	optionName, optionValues = splitOption(sectionAndPayload[1])

	return
}

// splitOption splits "<option> = <value>[, <value>]*" into its name and values.
// An option with nothing after the assignment has no values.
func splitOption(optionPayload string) (optionName string, optionValues []string) {
	nameAndValues := optionNameValuesSeparatorRE.Split(optionPayload, 2)

	optionName = nameAndValues[0]
	optionValues = optionValueSeparatorRE.Split(nameAndValues[1], -1)

	if (1 == len(optionValues)) && ("" == optionValues[0]) {
		optionValues = []string{}
	}

	return
}

func stripComment(line string) string {
	line = strings.SplitN(line, ";", 2)[0]
	line = strings.SplitN(line, "#", 2)[0]
	return strings.Trim(line, " \t\r")
}

func (confMap ConfMap) updateFromFile(confFilePath string, depth int) (err error) {
	var (
		confFileBytes      []byte
		currentSectionName string
		line               string
		lineNumber         int
		scanner            *bufio.Scanner
	)

	if maxIncludeDepth < depth {
		err = fmt.Errorf("file %v exceeds .include nesting limit of %v", confFilePath, maxIncludeDepth)
		return
	}

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	if !utf8.Valid(confFileBytes) {
		err = fmt.Errorf("file %v contained invalid UTF-8", confFilePath)
		return
	}
	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = fmt.Errorf("file %v did not end in a '\\n' character", confFilePath)
		return
	}

	scanner = bufio.NewScanner(bytes.NewReader(confFileBytes))

	for scanner.Scan() {
		lineNumber++

		line = stripComment(scanner.Text())
		if 0 == len(line) {
			continue
		}

		switch {
		case includeLineRE.MatchString(line):
			err = confMap.updateFromInclude(confFilePath, line, depth)
			if nil != err {
				return
			}
			// An included file leaves no section selected
			currentSectionName = ""
		case sectionHeaderLineRE.MatchString(line):
			currentSectionName = sectionNameRE.FindString(line)
		default:
			if "" == currentSectionName {
				err = fmt.Errorf("file %v line %v: option outside of any Section", confFilePath, lineNumber)
				return
			}
			if !optionLineRE.MatchString(line) {
				err = fmt.Errorf("file %v line %v: malformed line '%v'", confFilePath, lineNumber, line)
				return
			}

			optionName, optionValues := splitOption(line)
			confMap.set(currentSectionName, optionName, optionValues)
		}
	}

	err = scanner.Err()

	return
}

func (confMap ConfMap) updateFromInclude(confFilePath string, includeLine string, depth int) (err error) {
	var (
		absConfFilePath    string
		nestedConfFilePath string
	)

	nestedConfFilePath = includePathSeparatorRE.Split(includeLine, 2)[1]

	if !filepath.IsAbs(nestedConfFilePath) {
		absConfFilePath, err = filepath.Abs(confFilePath)
		if nil != err {
			return
		}
		nestedConfFilePath = filepath.Join(filepath.Dir(absConfFilePath), nestedConfFilePath)
	}

	err = confMap.updateFromFile(nestedConfFilePath, depth+1)

	return
}

package changelog

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"provenance/internal/core/errors"

	"gopkg.in/yaml.v3"
)

// Parse reads the changelog at name from fsys and flattens its includes.
// XML and YAML changelogs are recognised by extension.
func Parse(fsys fs.FS, name string) (*Document, error) {
	p := &parser{fsys: fsys, visiting: make(map[string]bool)}
	root := NormalizePath(name)
	sets, err := p.parse(root)
	if err != nil {
		return nil, err
	}
	return &Document{Path: root, ChangeSets: sets}, nil
}

// IsChangeLogFile reports whether name has a changelog extension.
func IsChangeLogFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".xml", ".yaml", ".yml":
		return true
	}
	return false
}

type parser struct {
	fsys     fs.FS
	visiting map[string]bool
}

// entry is a format-neutral changelog element.
type entry struct {
	changeSet  *ChangeSet
	logicalSet string
	include    string
	includeAll string
	relative   bool
}

func (p *parser) parse(name string) ([]ChangeSet, error) {
	if p.visiting[name] {
		return nil, errors.AddContext(errors.New(errors.CodeValidationError, "changelog include cycle"), errors.CtxPath, name)
	}
	p.visiting[name] = true
	defer delete(p.visiting, name)

	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read changelog"), errors.CtxPath, name)
	}

	var (
		logical string
		entries []entry
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".xml":
		logical, entries, err = decodeXML(data)
	case ".yaml", ".yml":
		logical, entries, err = decodeYAML(data)
	default:
		return nil, errors.AddContext(errors.New(errors.CodeNotSupported, "unsupported changelog format"), errors.CtxPath, name)
	}
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "decode changelog"), errors.CtxPath, name)
	}

	filePath := name
	if logical != "" {
		filePath = logical
	}

	var out []ChangeSet
	for _, e := range entries {
		switch {
		case e.changeSet != nil:
			cs := *e.changeSet
			cs.FilePath = filePath
			if e.logicalSet != "" {
				cs.FilePath = e.logicalSet
			}
			if cs.ID == "" || cs.Author == "" {
				return nil, errors.AddContext(errors.New(errors.CodeValidationError, "changeSet requires id and author"), errors.CtxPath, name)
			}
			out = append(out, cs)
		case e.include != "":
			included, err := p.parse(p.resolve(name, e.include, e.relative))
			if err != nil {
				return nil, err
			}
			out = append(out, included...)
		case e.includeAll != "":
			included, err := p.parseDir(p.resolve(name, e.includeAll, e.relative))
			if err != nil {
				return nil, err
			}
			out = append(out, included...)
		}
	}
	return out, nil
}

func (p *parser) parseDir(dir string) ([]ChangeSet, error) {
	items, err := fs.ReadDir(p.fsys, dir)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read changelog directory"), errors.CtxPath, dir)
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.IsDir() || !IsChangeLogFile(it.Name()) {
			continue
		}
		names = append(names, it.Name())
	}
	sort.Strings(names)

	var out []ChangeSet
	for _, n := range names {
		sets, err := p.parse(path.Join(dir, n))
		if err != nil {
			return nil, err
		}
		out = append(out, sets...)
	}
	return out, nil
}

func (p *parser) resolve(current, target string, relative bool) string {
	if relative {
		return NormalizePath(path.Join(path.Dir(current), target))
	}
	return NormalizePath(target)
}

type xmlChangeLog struct {
	XMLName         xml.Name   `xml:"databaseChangeLog"`
	LogicalFilePath string     `xml:"logicalFilePath,attr"`
	Elements        []xmlEntry `xml:",any"`
}

type xmlEntry struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func (e xmlEntry) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func decodeXML(data []byte) (string, []entry, error) {
	var doc xmlChangeLog
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return "", nil, err
	}
	entries := make([]entry, 0, len(doc.Elements))
	for _, el := range doc.Elements {
		switch el.XMLName.Local {
		case "changeSet":
			context := el.attr("context")
			if context == "" {
				context = el.attr("contextFilter")
			}
			entries = append(entries, entry{
				changeSet: &ChangeSet{
					ID:          el.attr("id"),
					Author:      el.attr("author"),
					Context:     context,
					Labels:      el.attr("labels"),
					DBMS:        el.attr("dbms"),
					RunAlways:   parseBool(el.attr("runAlways")),
					RunOnChange: parseBool(el.attr("runOnChange")),
				},
				logicalSet: NormalizePath(el.attr("logicalFilePath")),
			})
		case "include":
			entries = append(entries, entry{include: el.attr("file"), relative: parseBool(el.attr("relativeToChangelogFile"))})
		case "includeAll":
			entries = append(entries, entry{includeAll: el.attr("path"), relative: parseBool(el.attr("relativeToChangelogFile"))})
		}
	}
	return NormalizePath(doc.LogicalFilePath), entries, nil
}

type yamlChangeLog struct {
	DatabaseChangeLog []yamlEntry `yaml:"databaseChangeLog"`
}

type yamlEntry struct {
	LogicalFilePath string         `yaml:"logicalFilePath"`
	ChangeSet       *yamlChangeSet `yaml:"changeSet"`
	Include         *yamlInclude   `yaml:"include"`
	IncludeAll      *yamlInclude   `yaml:"includeAll"`
}

type yamlChangeSet struct {
	ID              string `yaml:"id"`
	Author          string `yaml:"author"`
	Context         string `yaml:"context"`
	ContextFilter   string `yaml:"contextFilter"`
	Labels          string `yaml:"labels"`
	DBMS            string `yaml:"dbms"`
	RunAlways       bool   `yaml:"runAlways"`
	RunOnChange     bool   `yaml:"runOnChange"`
	LogicalFilePath string `yaml:"logicalFilePath"`
}

type yamlInclude struct {
	File                    string `yaml:"file"`
	Path                    string `yaml:"path"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
}

func decodeYAML(data []byte) (string, []entry, error) {
	var doc yamlChangeLog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, err
	}
	if doc.DatabaseChangeLog == nil {
		return "", nil, fmt.Errorf("missing databaseChangeLog root")
	}
	var (
		logical string
		entries = make([]entry, 0, len(doc.DatabaseChangeLog))
	)
	for _, el := range doc.DatabaseChangeLog {
		switch {
		case el.LogicalFilePath != "":
			logical = NormalizePath(el.LogicalFilePath)
		case el.ChangeSet != nil:
			cs := el.ChangeSet
			context := cs.Context
			if context == "" {
				context = cs.ContextFilter
			}
			entries = append(entries, entry{
				changeSet: &ChangeSet{
					ID:          strings.TrimSpace(cs.ID),
					Author:      strings.TrimSpace(cs.Author),
					Context:     strings.TrimSpace(context),
					Labels:      strings.TrimSpace(cs.Labels),
					DBMS:        strings.TrimSpace(cs.DBMS),
					RunAlways:   cs.RunAlways,
					RunOnChange: cs.RunOnChange,
				},
				logicalSet: NormalizePath(cs.LogicalFilePath),
			})
		case el.Include != nil:
			entries = append(entries, entry{include: strings.TrimSpace(el.Include.File), relative: el.Include.RelativeToChangelogFile})
		case el.IncludeAll != nil:
			entries = append(entries, entry{includeAll: strings.TrimSpace(el.IncludeAll.Path), relative: el.IncludeAll.RelativeToChangelogFile})
		}
	}
	return logical, entries, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

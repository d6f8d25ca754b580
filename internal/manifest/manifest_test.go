package manifest_test

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smykla-labs/pluginhost/internal/manifest"
)

func writeManifest(dir, name, content string) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

	return path
}

var _ = Describe("Parse", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	Context("with a YAML manifest", func() {
		It("decodes all declared fields", func() {
			path := writeManifest(tmpDir, "manifest.yaml", `
name: weather
version: 1.2.0
description: Weather data collector
author: acme
binary: weatherd
category: monitoring
default_config:
  port: 8090
  units: metric
commands:
  refresh: Refresh cached data
`)

			m, err := manifest.Parse(path)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Name).To(Equal("weather"))
			Expect(m.Version).To(Equal("1.2.0"))
			Expect(m.Binary).To(Equal("weatherd"))
			Expect(m.Category).To(Equal("monitoring"))
			Expect(m.DefaultConfig).To(HaveKeyWithValue("port", 8090))
			Expect(m.Commands).To(HaveKeyWithValue("refresh", "Refresh cached data"))
		})
	})

	Context("with a JSON manifest", func() {
		It("decodes the document", func() {
			path := writeManifest(tmpDir, "manifest.json", `{
				"name": "notes",
				"version": "0.3.1",
				"entry": "plugin.go"
			}`)

			m, err := manifest.Parse(path)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Name).To(Equal("notes"))
			Expect(m.Entry).To(Equal("plugin.go"))
		})
	})

	It("defaults an empty category", func() {
		path := writeManifest(tmpDir, "manifest.yaml", "name: x\nversion: 1.0.0\nbinary: x\n")

		m, err := manifest.Parse(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Category).To(Equal(manifest.DefaultCategory))
	})

	It("rejects unsupported extensions", func() {
		path := writeManifest(tmpDir, "manifest.toml", "name = \"x\"\n")

		_, err := manifest.Parse(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed YAML", func() {
		path := writeManifest(tmpDir, "manifest.yaml", "name: [unclosed\n")

		_, err := manifest.Parse(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Validate", func() {
	var v *validator.Validate

	BeforeEach(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
	})

	It("accepts a manifest with name, version, and an entry reference", func() {
		m := &manifest.Manifest{Name: "x", Version: "1.0.0", Binary: "xd"}

		Expect(manifest.Validate(v, m)).To(Succeed())
	})

	It("rejects a missing name", func() {
		m := &manifest.Manifest{Version: "1.0.0", Binary: "xd"}

		Expect(manifest.Validate(v, m)).NotTo(Succeed())
	})

	It("rejects a missing version", func() {
		m := &manifest.Manifest{Name: "x", Binary: "xd"}

		Expect(manifest.Validate(v, m)).NotTo(Succeed())
	})

	It("rejects a manifest with neither binary nor entry", func() {
		m := &manifest.Manifest{Name: "x", Version: "1.0.0"}

		err := manifest.Validate(v, m)
		Expect(err).To(MatchError(manifest.ErrNoEntry))
	})
})

var _ = Describe("Kind", func() {
	It("classifies a binary-only manifest as process", func() {
		m := &manifest.Manifest{Binary: "xd"}

		Expect(m.Kind()).To(Equal(manifest.KindProcess))
		Expect(m.EntryRef()).To(Equal("xd"))
	})

	It("classifies an entry-only manifest as module", func() {
		m := &manifest.Manifest{Entry: "plugin.go"}

		Expect(m.Kind()).To(Equal(manifest.KindModule))
		Expect(m.EntryRef()).To(Equal("plugin.go"))
	})

	It("classifies a manifest declaring both as module", func() {
		m := &manifest.Manifest{Binary: "xd", Entry: "plugin.go"}

		Expect(m.Kind()).To(Equal(manifest.KindModule))
	})
})

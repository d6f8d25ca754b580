package manifest_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smykla-labs/pluginhost/internal/manifest"
	"github.com/smykla-labs/pluginhost/pkg/logger"
)

// addPlugin creates a plugin directory with a manifest under root.
func addPlugin(root, dir, content string) string {
	path := filepath.Join(root, dir)
	Expect(os.MkdirAll(path, 0o755)).To(Succeed())

	writeManifest(path, "manifest.yaml", content)

	return path
}

var _ = Describe("Registry", func() {
	var (
		registry *manifest.Registry
		userRoot string
	)

	BeforeEach(func() {
		registry = manifest.NewRegistry(logger.NewNoOpLogger())
		userRoot = GinkgoT().TempDir()
	})

	Describe("Discover", func() {
		It("finds one plugin per subdirectory", func() {
			addPlugin(userRoot, "weather", "name: weather\nversion: 1.0.0\nbinary: weatherd\n")
			addPlugin(userRoot, "notes", "name: notes\nversion: 0.1.0\nentry: plugin.go\n")

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(HaveLen(2))
			Expect(table).To(HaveKey("weather"))
			Expect(table).To(HaveKey("notes"))
			Expect(table["weather"].Dir).To(Equal(filepath.Join(userRoot, "weather")))
		})

		It("keys the table by manifest name, not directory name", func() {
			addPlugin(userRoot, "some-dir", "name: weather\nversion: 1.0.0\nbinary: weatherd\n")

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(HaveKey("weather"))
			Expect(table).NotTo(HaveKey("some-dir"))
		})

		It("skips a broken manifest without failing the others", func() {
			addPlugin(userRoot, "good", "name: good\nversion: 1.0.0\nbinary: goodd\n")
			addPlugin(userRoot, "broken", "name: [unclosed\n")

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(HaveLen(1))
			Expect(table).To(HaveKey("good"))
		})

		It("skips a manifest missing required fields", func() {
			addPlugin(userRoot, "nameless", "version: 1.0.0\nbinary: xd\n")
			addPlugin(userRoot, "entryless", "name: entryless\nversion: 1.0.0\n")

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(BeEmpty())
		})

		It("accepts a non-semver version", func() {
			addPlugin(userRoot, "odd", "name: odd\nversion: not-a-version\nbinary: oddd\n")

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(HaveKey("odd"))
		})

		It("ignores files at the root level", func() {
			Expect(os.WriteFile(
				filepath.Join(userRoot, "stray.yaml"),
				[]byte("name: stray\nversion: 1.0.0\nbinary: x\n"),
				0o644,
			)).To(Succeed())

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(BeEmpty())
		})

		It("tolerates a missing root", func() {
			table := registry.Discover([]manifest.Root{
				{Path: filepath.Join(userRoot, "does-not-exist")},
			})

			Expect(table).To(BeEmpty())
		})

		Context("with a builtin root", func() {
			var builtinRoot string

			BeforeEach(func() {
				builtinRoot = GinkgoT().TempDir()
			})

			It("forces the protected flag on its manifests", func() {
				addPlugin(builtinRoot, "core", "name: core\nversion: 1.0.0\nbinary: cored\n")

				table := registry.Discover([]manifest.Root{
					{Path: builtinRoot, Builtin: true},
					{Path: userRoot},
				})

				Expect(table["core"].Manifest.Builtin).To(BeTrue())
			})

			It("resolves name collisions in favour of the earlier root", func() {
				addPlugin(builtinRoot, "weather", "name: weather\nversion: 2.0.0\nbinary: weatherd\n")
				addPlugin(userRoot, "weather", "name: weather\nversion: 1.0.0\nbinary: weatherd\n")

				table := registry.Discover([]manifest.Root{
					{Path: builtinRoot, Builtin: true},
					{Path: userRoot},
				})

				Expect(table).To(HaveLen(1))
				Expect(table["weather"].Manifest.Version).To(Equal("2.0.0"))
				Expect(table["weather"].Manifest.Builtin).To(BeTrue())
			})
		})

		It("prefers manifest.yaml over manifest.json in the same directory", func() {
			dir := addPlugin(userRoot, "dual", "name: dual-yaml\nversion: 1.0.0\nbinary: x\n")
			Expect(os.WriteFile(
				filepath.Join(dir, "manifest.json"),
				[]byte(`{"name": "dual-json", "version": "1.0.0", "binary": "x"}`),
				0o644,
			)).To(Succeed())

			table := registry.Discover([]manifest.Root{{Path: userRoot}})

			Expect(table).To(HaveKey("dual-yaml"))
			Expect(table).NotTo(HaveKey("dual-json"))
		})
	})
})

package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/deliverycore/attachment"
	"github.com/spf13/cobra"
)

func newOpenCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "open <reference>",
		Short: "Decrypt an attachment",
		Long: `Decrypt the attachment named by a content reference.

The plaintext is staged in a private temporary file that is unlinked before
it is read, then copied to stdout or to --output. The passphrase is read
from ` + passphraseEnv + `.`,
		Example: `  deliveryctl open content://deliverycore/part/1700000000000/3 > photo.jpg
  deliveryctl open content://deliverycore/part/1700000000000/3/photo.jpg -o photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := attachment.ParseLocator(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			keys, err := e.unlock()
			if err != nil {
				return err
			}
			defer keys.Lock()

			plain, err := e.materializer(keys).Materialize(cmd.Context(), loc)
			if err != nil {
				return err
			}
			defer plain.Close() //nolint:errcheck // read-only handle

			if output == "" {
				_, err = io.Copy(stdout, plain)
				return err
			}

			f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, plain)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "wrote %d bytes (%s) to %s\n", n, plain.ContentType(), output) //nolint:errcheck // best-effort output
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the plaintext to this file instead of stdout")
	return cmd
}

func newImportAttachmentCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var contentType, name string
	cmd := &cobra.Command{
		Use:   "import-attachment <file>",
		Short: "Encrypt a file into the attachment store",
		Long: `Seal a file under the master secret and print its content reference.

The content type defaults to the one registered for the file extension.
The display name defaults to the file's base name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == "" {
				name = filepath.Base(path)
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
			}
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			keys, err := e.unlock()
			if err != nil {
				return err
			}
			defer keys.Lock()

			secret, ok := keys.CurrentUnlockedSecret()
			if !ok {
				return attachment.ErrLocked
			}
			defer secret.Wipe()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck // read-only

			meta, err := e.attachments.Import(cmd.Context(), secret, f, contentType, name)
			if err != nil {
				return err
			}

			loc := attachment.Locator{RowID: meta.ID.RowID, UniqueID: meta.ID.UniqueID, Extension: meta.DisplayName}
			fmt.Fprintln(stdout, loc.URIWithExtension(attachmentAuthority)) //nolint:errcheck // best-effort output
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "content type (default: from the file extension)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default: the file name)")
	return cmd
}

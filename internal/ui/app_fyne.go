//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"thumbdraft/internal/crash"
	"thumbdraft/internal/draft"
	"thumbdraft/internal/export"
	applog "thumbdraft/internal/log"
)

const opTimeout = 3 * time.Minute

var tileSize = fyne.NewSize(320, 236)

// Run opens the draft window and blocks until it is closed.
func Run(d Deps) error {
	if err := d.Validate(); err != nil {
		return err
	}
	defer crash.Recover(d.Crash)

	a := app.NewWithID("io.thumbdraft.app")
	dw := newDraftWindow(a, d)
	dw.win.ShowAndRun()
	return nil
}

type draftWindow struct {
	deps  Deps
	ctrl  *draft.Controller
	app   fyne.App
	win   fyne.Window
	log   *slog.Logger
	saver *autosaver

	idea        *widget.Entry
	fields      map[draft.Field]*widget.Entry
	generate    *widget.Button
	regenImages *widget.Button
	regenAll    *widget.Button
	update      *widget.Button
	regenBox    *fyne.Container
	errorText   *widget.Label
	errorBar    *fyne.Container
	progress    *widget.ProgressBarInfinite
	grid        *fyne.Container
	status      *widget.Label
	exportItem  *fyne.MenuItem
	preview     fyne.Window

	// syncing is set while refresh writes into entries so OnChanged does
	// not echo the value back into the controller.
	syncing bool

	imgMu   sync.Mutex
	images  map[string]image.Image
	loading map[string]bool
}

func newDraftWindow(a fyne.App, d Deps) *draftWindow {
	if d.Fetcher == nil {
		d.Fetcher = export.NewFetcher()
	}
	dw := &draftWindow{
		deps:    d,
		ctrl:    d.Controller,
		app:     a,
		win:     a.NewWindow("Thumbdraft"),
		log:     applog.WithComponent("ui"),
		saver:   newAutosaver(d.Store),
		fields:  map[draft.Field]*widget.Entry{},
		images:  map[string]image.Image{},
		loading: map[string]bool{},
	}
	prefs := a.Preferences()
	w := prefs.IntWithFallback("window.width", 1100)
	h := prefs.IntWithFallback("window.height", 780)
	dw.win.Resize(fyne.NewSize(float32(max(w, 720)), float32(max(h, 520))))
	dw.win.SetOnClosed(func() {
		sz := dw.win.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
	})

	dw.build()
	dw.ctrl.Subscribe(func(s draft.State) {
		dw.saver.observe(s)
		fyne.Do(dw.refresh)
	})
	dw.refresh()
	return dw
}

func (dw *draftWindow) build() {
	dw.idea = widget.NewMultiLineEntry()
	dw.idea.SetPlaceHolder("Describe your video idea...")
	dw.idea.Wrapping = fyne.TextWrapWord
	dw.idea.SetMinRowsVisible(3)
	dw.idea.OnChanged = func(s string) {
		if !dw.syncing {
			dw.ctrl.SetIdea(s)
		}
	}

	dw.generate = widget.NewButtonWithIcon("Generate Thumbnails", theme.MediaPlayIcon(), func() { dw.run(draft.OpGenerate, dw.ctrl.Generate) })
	dw.generate.Importance = widget.HighImportance
	dw.regenImages = widget.NewButtonWithIcon("Regenerate Images", theme.ViewRefreshIcon(), func() { dw.run(draft.OpRegenerateImages, dw.ctrl.RegenerateImages) })
	dw.regenAll = widget.NewButtonWithIcon("Regenerate All", theme.ViewRefreshIcon(), func() { dw.run(draft.OpRegenerateAll, dw.ctrl.RegenerateAll) })
	dw.update = widget.NewButtonWithIcon("Update Text Only", theme.DocumentCreateIcon(), func() { dw.run(draft.OpUpdateText, dw.ctrl.UpdateTextOnly) })
	dw.regenBox = container.NewHBox(dw.regenImages, dw.regenAll)

	form := widget.NewForm()
	for _, f := range draft.Fields {
		e := widget.NewEntry()
		e.OnChanged = func(s string) {
			if !dw.syncing {
				_ = dw.ctrl.EditText(f, s)
			}
		}
		dw.fields[f] = e
		form.Append(fieldLabel(f), e)
	}

	dw.errorText = widget.NewLabel("")
	dw.errorText.Wrapping = fyne.TextWrapWord
	dismiss := widget.NewButtonWithIcon("", theme.CancelIcon(), dw.ctrl.DismissError)
	dw.errorBar = container.NewBorder(nil, nil, widget.NewIcon(theme.ErrorIcon()), dismiss, dw.errorText)

	dw.progress = widget.NewProgressBarInfinite()
	dw.grid = container.NewGridWrap(tileSize)
	dw.status = widget.NewLabel("")

	left := container.NewVBox(
		widget.NewLabelWithStyle("Video idea", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		dw.idea,
		dw.generate,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Overlay text", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		form,
		dw.update,
		dw.regenBox,
		dw.errorBar,
		dw.progress,
	)
	split := container.NewHSplit(container.NewVScroll(left), container.NewVScroll(dw.grid))
	split.Offset = 0.32
	dw.win.SetContent(container.NewBorder(nil, dw.status, nil, nil, split))
	dw.win.SetMainMenu(dw.menu())
}

func (dw *draftWindow) menu() *fyne.MainMenu {
	dw.exportItem = fyne.NewMenuItem("Export...", dw.exportDialog)
	save := fyne.NewMenuItem("Save Draft", func() {
		if dw.deps.Store == nil {
			dialog.ShowInformation("Save", "No drafts folder configured.", dw.win)
			return
		}
		if err := dw.deps.Store.Save(dw.ctrl.State()); err != nil {
			dialog.ShowError(err, dw.win)
		}
	})
	undo := fyne.NewMenuItem("Undo Text Edit", func() { dw.ctrl.UndoText() })
	redo := fyne.NewMenuItem("Redo Text Edit", func() { dw.ctrl.RedoText() })
	clearSel := fyne.NewMenuItem("Clear Selection", dw.ctrl.ClearSelection)
	return fyne.NewMainMenu(
		fyne.NewMenu("File", save, dw.exportItem),
		fyne.NewMenu("Edit", undo, redo, fyne.NewMenuItemSeparator(), clearSel),
	)
}

// run executes op off the UI goroutine. Failures of the service land in the
// controller state; only failed preconditions need a dialog here.
func (dw *draftWindow) run(op draft.Op, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		err := fn(ctx)
		var ve *draft.ValidationError
		switch {
		case err == nil, errors.Is(err, draft.ErrBusy):
		case errors.As(err, &ve):
			fyne.Do(func() { dialog.ShowInformation("Thumbdraft", ve.Message, dw.win) })
		default:
			dw.log.Warn("operation failed", slog.String("op", string(op)), slog.Any("err", err))
		}
	}()
}

func (dw *draftWindow) refresh() {
	v := dw.ctrl.View()
	c := controlsFor(v)

	dw.syncing = true
	if dw.idea.Text != v.Idea {
		dw.idea.SetText(v.Idea)
	}
	for f, e := range dw.fields {
		if val := v.Text.Get(f); e.Text != val {
			e.SetText(val)
		}
	}
	dw.fields[draft.FieldDate].SetPlaceHolder(v.DateOrToday)
	dw.syncing = false

	dw.generate.SetText(generateLabel(v))
	setEnabled(dw.generate, c.Generate)
	setEnabled(dw.regenImages, c.RegenerateImages)
	setEnabled(dw.regenAll, c.RegenerateAll)
	setEnabled(dw.update, c.UpdateText)
	setVisible(dw.regenBox, c.ShowRegenerate)
	if dw.exportItem != nil && dw.exportItem.Disabled == c.Export {
		dw.exportItem.Disabled = !c.Export
		dw.win.MainMenu().Refresh()
	}

	dw.errorText.SetText(v.Error)
	setVisible(dw.errorBar, v.Error != "")
	setVisible(dw.progress, v.Loading)
	dw.status.SetText(statusLine(v))

	tiles := make([]fyne.CanvasObject, 0, len(v.Thumbnails))
	for _, t := range v.Thumbnails {
		tiles = append(tiles, dw.tile(t, v.Loading))
	}
	dw.grid.Objects = tiles
	dw.grid.Refresh()

	dw.syncPreview(v.Preview)
}

func (dw *draftWindow) tile(t draft.ThumbnailView, busy bool) fyne.CanvasObject {
	var body fyne.CanvasObject
	if img := dw.image(t.Ref); img != nil {
		ci := canvas.NewImageFromImage(img)
		ci.FillMode = canvas.ImageFillContain
		ci.SetMinSize(fyne.NewSize(tileSize.Width, tileSize.Width*9/16))
		body = ci
	} else {
		body = container.NewCenter(widget.NewLabel("Loading..."))
	}

	selectLabel := "Select"
	if t.Selected {
		selectLabel = "Selected"
	}
	index := t.Index
	sel := widget.NewButtonWithIcon(selectLabel, theme.ConfirmIcon(), func() {
		if t.Selected {
			dw.ctrl.ClearSelection()
			return
		}
		_ = dw.ctrl.Select(index)
	})
	if t.Selected {
		sel.Importance = widget.HighImportance
	}
	setEnabled(sel, !busy)
	view := widget.NewButtonWithIcon("", theme.ZoomInIcon(), func() { _ = dw.ctrl.OpenPreview(index) })
	save := widget.NewButtonWithIcon("", theme.DownloadIcon(), func() { dw.download(index) })
	footer := container.NewHBox(widget.NewLabel(t.Title), layout.NewSpacer(), sel, view, save)
	return container.NewBorder(nil, footer, nil, nil, body)
}

// image returns the decoded thumbnail or starts loading it.
func (dw *draftWindow) image(ref string) image.Image {
	dw.imgMu.Lock()
	defer dw.imgMu.Unlock()
	if img, ok := dw.images[ref]; ok {
		return img
	}
	if dw.loading[ref] {
		return nil
	}
	dw.loading[ref] = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		img, err := dw.deps.Fetcher.FetchImage(ctx, ref)
		if err != nil {
			dw.log.Warn("thumbnail load failed", slog.Any("err", err))
			img = image.NewRGBA(image.Rect(0, 0, 16, 9))
		}
		dw.imgMu.Lock()
		dw.images[ref] = img
		delete(dw.loading, ref)
		dw.imgMu.Unlock()
		fyne.Do(dw.refresh)
	}()
	return nil
}

func (dw *draftWindow) syncPreview(p *draft.ThumbnailView) {
	if p == nil {
		if dw.preview != nil {
			pw := dw.preview
			dw.preview = nil
			pw.SetOnClosed(nil)
			pw.Close()
		}
		return
	}
	if dw.preview != nil {
		return
	}
	img := dw.image(p.Ref)
	if img == nil {
		return // opened once the image arrives
	}
	pw := dw.app.NewWindow(p.Title)
	ci := canvas.NewImageFromImage(img)
	ci.FillMode = canvas.ImageFillContain
	pw.SetContent(ci)
	pw.Resize(fyne.NewSize(960, 540))
	pw.SetOnClosed(func() {
		dw.preview = nil
		dw.ctrl.ClosePreview()
	})
	pw.Canvas().SetOnTypedKey(func(k *fyne.KeyEvent) {
		if k.Name == fyne.KeyEscape {
			pw.Close()
		}
	})
	dw.preview = pw
	pw.Show()
}

func (dw *draftWindow) download(i int) {
	st := dw.ctrl.State()
	save := func(dir string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			path, err := export.Download(ctx, dw.deps.Fetcher, st, i, dir)
			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, dw.win)
					return
				}
				dw.status.SetText("Saved " + path)
			})
		}()
	}
	if dw.deps.ExportDir != "" {
		save(dw.deps.ExportDir)
		return
	}
	dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil || uri == nil {
			return
		}
		save(uri.Path())
	}, dw.win)
}

func (dw *draftWindow) exportDialog() {
	st := dw.ctrl.State()
	dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil || uri == nil {
			return
		}
		dir := uri.Path()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			paths, err := export.Run(ctx, dw.deps.Fetcher, st, export.Options{
				Formats: []export.Format{export.FormatZip, export.FormatPDF, export.FormatPNG},
				OutDir:  dir,
				Sheet:   export.SheetOptions{HighlightSelection: true},
			})
			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, dw.win)
					return
				}
				dialog.ShowInformation("Export", fmt.Sprintf("Wrote %d files:\n%s", len(paths), strings.Join(paths, "\n")), dw.win)
			})
		}()
	}, dw.win)
}

func fieldLabel(f draft.Field) string {
	s := string(f)
	return strings.ToUpper(s[:1]) + s[1:]
}

func setEnabled(b *widget.Button, on bool) {
	if on {
		b.Enable()
	} else {
		b.Disable()
	}
}

func setVisible(o fyne.CanvasObject, on bool) {
	if on {
		o.Show()
	} else {
		o.Hide()
	}
}
